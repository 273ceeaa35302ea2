package logqueue

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/jirevwe/logqueue/pool"
	"github.com/jirevwe/logqueue/queue"
)

// ErrNotPersisted is returned when the queue did not commit a record.
var ErrNotPersisted = errors.New("log record was not persisted")

type ProducerOptions struct {
	// Workers enqueue records in the background. With zero workers every
	// record is committed before Write returns. With more than one worker
	// records written concurrently may be committed in any order.
	Workers uint

	// Buffer is how many records may wait for a worker before Write blocks.
	Buffer uint

	Logger *slog.Logger
}

// Producer feeds log records into a queue. It implements io.Writer so a
// host logger can write to it directly; each Write is one record.
type Producer struct {
	q    queue.Queue
	pool *pool.WorkerPool
	log  *slog.Logger

	closeOnce sync.Once
}

func NewProducer(q queue.Queue, opts ProducerOptions) *Producer {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	p := &Producer{
		q:   q,
		log: opts.Logger.With("queue", q.Name()),
	}

	if opts.Workers > 0 {
		p.pool = pool.NewWorkerPool(opts.Workers, opts.Buffer, p.log)
		p.pool.Start()
	}

	return p
}

// Enqueue persists message synchronously and reports whether it was
// committed.
func (p *Producer) Enqueue(message string) bool {
	return p.q.Enqueue(message)
}

// Write queues b, minus a trailing newline, as one record. Without workers
// it returns ErrNotPersisted if the record was not committed. With workers
// it returns once the record is handed to the pool.
func (p *Producer) Write(b []byte) (int, error) {
	message := strings.TrimSuffix(string(b), "\n")

	if p.pool == nil {
		if !p.q.Enqueue(message) {
			return 0, ErrNotPersisted
		}
		return len(b), nil
	}

	err := p.pool.AddWork(&enqueueTask{q: p.q, message: message, log: p.log})
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close waits for records handed to the workers to be enqueued. It does not
// close the queue.
func (p *Producer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.pool != nil {
			err = p.pool.Stop()
		}
	})
	return err
}

package logqueue

import (
	"log/slog"

	"github.com/jirevwe/logqueue/queue"
)

// enqueueTask persists one record on a pool worker.
type enqueueTask struct {
	q       queue.Queue
	message string
	log     *slog.Logger
}

func (t *enqueueTask) Execute() error {
	if !t.q.Enqueue(t.message) {
		return ErrNotPersisted
	}
	return nil
}

// OnFailure only notes the loss; the queue has already reported the cause.
func (t *enqueueTask) OnFailure(err error) {
	t.log.Warn("dropped log record", "error", err, "bytes", len(t.message))
}

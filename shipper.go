package logqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jirevwe/logqueue/queue"
	"github.com/oklog/ulid/v2"
)

// ErrNotAcknowledged is returned by ShipOne when an entry was sent but could
// not be removed from the queue. The entry will be sent again.
var ErrNotAcknowledged = errors.New("sent entry was not acknowledged")

type ShipperOptions struct {
	// IdleInterval is the first wait after finding the queue empty; it
	// doubles on each further empty poll up to MaxIdleInterval.
	IdleInterval    time.Duration
	MaxIdleInterval time.Duration

	// RetryInterval is the wait after a failed read, send or acknowledgement.
	RetryInterval time.Duration

	Logger *slog.Logger
}

// Shipper is the consumer side of a queue: it sends the oldest entry and
// acknowledges it once sent.
//
// Delivery is at-least-once. An entry whose acknowledgement fails, or that
// was sent right before a crash, is sent again. Only one Shipper may consume
// a queue; there is no claim on an entry, so two would send the same entries.
type Shipper struct {
	q      queue.Queue
	sender Sender
	opts   ShipperOptions
	log    *slog.Logger

	// mu keeps ShipOne calls from overlapping
	mu       sync.Mutex
	headId   int64
	attempts int
}

func NewShipper(q queue.Queue, sender Sender, opts ShipperOptions) *Shipper {
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = 250 * time.Millisecond
	}
	if opts.MaxIdleInterval < opts.IdleInterval {
		opts.MaxIdleInterval = opts.IdleInterval
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	return &Shipper{
		q:      q,
		sender: sender,
		opts:   opts,
		log:    opts.Logger.With("queue", q.Name()),
	}
}

// ShipOne sends and acknowledges the oldest entry. It returns false with a
// nil error when there was nothing to send. An entry that was sent but not
// acknowledged returns true with ErrNotAcknowledged.
func (s *Shipper) ShipOne(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.q.Peek(ctx)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if entry.Id != s.headId {
		s.headId = entry.Id
		s.attempts = 0
	}
	s.attempts++

	delivery := &Delivery{
		Id:      ulid.Make(),
		Queue:   s.q.Name(),
		Entry:   entry,
		Attempt: s.attempts,
	}

	if err := s.sender.Send(ctx, delivery); err != nil {
		return false, fmt.Errorf("send entry %d (delivery %s, attempt %d): %w", entry.Id, delivery.Id, delivery.Attempt, err)
	}

	if !s.q.Acknowledge(entry.Id) {
		return true, fmt.Errorf("entry %d (delivery %s): %w", entry.Id, delivery.Id, ErrNotAcknowledged)
	}

	return true, nil
}

// Run ships entries until ctx is done. Empty polls back off up to
// MaxIdleInterval; any failure waits RetryInterval before the same entry is
// tried again.
func (s *Shipper) Run(ctx context.Context) {
	s.log.Info("shipper started")
	defer s.log.Info("shipper stopped")

	idle := newBackoff(s.opts.IdleInterval, s.opts.MaxIdleInterval)
	for ctx.Err() == nil {
		shipped, err := s.ShipOne(ctx)

		var wait time.Duration
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			s.log.Error("shipping failed", "error", err)
			wait = s.opts.RetryInterval
		case !shipped:
			wait = idle.Next()
		default:
			idle.Reset()
			continue
		}

		if sleep(ctx, wait) != nil {
			return
		}
	}
}

// Drain ships entries until the queue is empty and returns how many were
// sent. It stops at the first failure, including a failed read of the queue.
func (s *Shipper) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		shipped, err := s.ShipOne(ctx)
		if shipped {
			n++
		}
		if err != nil {
			return n, err
		}
		if !shipped {
			return n, nil
		}
	}
}

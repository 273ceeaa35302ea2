package logqueue

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jirevwe/logqueue/packer"
	"github.com/jirevwe/logqueue/queue"
	"github.com/oklog/ulid/v2"
)

// Delivery is one attempt to ship a queue entry.
type Delivery struct {
	Id      ulid.ULID   `json:"delivery_id"`
	Queue   string      `json:"queue"`
	Entry   queue.Entry `json:"entry"`
	Attempt int         `json:"attempt"`
}

// A Sender ships entries to their destination.
//
// Send should return nil only once the entry is safely delivered; the entry
// is acknowledged right after. A non-nil error leaves the entry at the head
// of the queue and it will be sent again.
type Sender interface {
	Send(context.Context, *Delivery) error
}

// The SenderFunc type is an adapter to allow the use of
// ordinary functions as a Sender. If f is a function
// with the appropriate signature, SenderFunc(f) is a
// Sender that calls f.
type SenderFunc func(context.Context, *Delivery) error

// Send calls fn(ctx, delivery)
func (fn SenderFunc) Send(ctx context.Context, delivery *Delivery) error {
	return fn(ctx, delivery)
}

const (
	FormatText    = "text"
	FormatMsgpack = "msgpack"
)

// NewWriterSender returns a Sender that writes entries to w, either as one
// message per line (FormatText) or as a stream of msgpack encoded entries
// (FormatMsgpack).
func NewWriterSender(w io.Writer, format string) (Sender, error) {
	var mu sync.Mutex

	switch format {
	case FormatText:
		return SenderFunc(func(_ context.Context, d *Delivery) error {
			mu.Lock()
			defer mu.Unlock()
			_, err := io.WriteString(w, d.Entry.Message+"\n")
			return err
		}), nil
	case FormatMsgpack:
		enc := packer.NewEncoder(w)
		return SenderFunc(func(_ context.Context, d *Delivery) error {
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(d.Entry)
		}), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

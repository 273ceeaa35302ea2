package logqueue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/jirevwe/logqueue/queue"
	"github.com/jirevwe/logqueue/queue/sqlite"
	"github.com/stretchr/testify/require"
)

var slogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func openQueue(t *testing.T, dir, name string) *sqlite.Sqlite {
	t.Helper()

	s, err := sqlite.Open(dir, name, sqlite.WithLogger(slogger))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })
	return s
}

func drainMessages(t *testing.T, q queue.Queue) []string {
	t.Helper()

	entries, err := q.List(context.Background(), 0)
	require.NoError(t, err)

	messages := make([]string, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, e.Message)
	}
	return messages
}

// collector is a Sender that records deliveries and can be told to fail.
type collector struct {
	mu         sync.Mutex
	deliveries []*Delivery
	failures   int
	err        error
}

func (c *collector) Send(_ context.Context, d *Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deliveries = append(c.deliveries, d)
	if c.failures > 0 {
		c.failures--
		return c.err
	}
	return nil
}

func (c *collector) all() []*Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Delivery(nil), c.deliveries...)
}

func (c *collector) messages() []string {
	var out []string
	for _, d := range c.all() {
		out = append(out, d.Entry.Message)
	}
	return out
}

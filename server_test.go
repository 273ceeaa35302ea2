package logqueue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func testConfig(dir string) *Config {
	cfg := Default()
	cfg.Directory = dir
	cfg.Shipper.IdleInterval = Duration{time.Millisecond}
	cfg.Shipper.MaxIdleInterval = Duration{10 * time.Millisecond}
	cfg.Shipper.RetryInterval = Duration{time.Millisecond}
	return cfg
}

func TestServer_ShipsEveryQueue(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewServer(testConfig(t.TempDir()), WithServerLogger(slogger), WithServerRegisterer(reg))
	require.NoError(t, err)

	app, audit := &collector{}, &collector{}
	require.NoError(t, s.CreateQueue("app", app))
	require.NoError(t, s.Start(context.Background()))

	// queues created after Start are shipped too
	require.NoError(t, s.CreateQueue("audit", audit))

	appProducer, ok := s.Producer("app")
	require.True(t, ok)
	auditProducer, ok := s.Producer("audit")
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		require.True(t, appProducer.Enqueue(fmt.Sprintf("app_%d", i)))
	}
	require.True(t, auditProducer.Enqueue("audit_0"))

	require.Eventually(t, func() bool {
		return len(app.messages()) == 3 && len(audit.messages()) == 1
	}, 5*time.Second, 5*time.Millisecond)

	require.Equal(t, []string{"app_0", "app_1", "app_2"}, app.messages())
	require.Equal(t, []string{"audit_0"}, audit.messages())

	count, err := testutil.GatherAndCount(reg, "logqueue_acknowledged_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.NoError(t, s.Stop())

	_, ok = s.Queue("app")
	require.False(t, ok)
}

func TestServer_StopKeepsPendingEntries(t *testing.T) {
	dir := t.TempDir()

	s, err := NewServer(testConfig(dir), WithServerLogger(slogger))
	require.NoError(t, err)

	// nothing registered for the queue yet, so entries stay pending
	require.NoError(t, s.CreateQueue("logs", nil))
	require.NoError(t, s.Start(context.Background()))

	p, ok := s.Producer("logs")
	require.True(t, ok)
	require.True(t, p.Enqueue("a"))
	require.True(t, p.Enqueue("b"))

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop())

	s, err = NewServer(testConfig(dir), WithServerLogger(slogger))
	require.NoError(t, err)

	c := &collector{}
	require.NoError(t, s.CreateQueue("logs", c))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(c.messages()) == 2
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"a", "b"}, c.messages())

	require.NoError(t, s.Stop())
}

func TestServer_CreateQueueTwiceReplacesSender(t *testing.T) {
	s, err := NewServer(testConfig(t.TempDir()), WithServerLogger(slogger))
	require.NoError(t, err)
	defer s.Stop()

	first, second := &collector{}, &collector{}
	require.NoError(t, s.CreateQueue("logs", first))
	q, _ := s.Queue("logs")

	require.NoError(t, s.CreateQueue("logs", second))
	again, _ := s.Queue("logs")
	require.Same(t, q, again)

	require.Same(t, Sender(second), s.mux.Sender("logs"))
}

func TestServer_StartTwice(t *testing.T) {
	s, err := NewServer(testConfig(t.TempDir()), WithServerLogger(slogger))
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()))
}

func TestServer_InvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Queue = ""

	_, err := NewServer(cfg)
	require.Error(t, err)
}

func TestServer_InvalidQueueName(t *testing.T) {
	s, err := NewServer(testConfig(t.TempDir()), WithServerLogger(slogger))
	require.NoError(t, err)
	defer s.Stop()

	require.Error(t, s.CreateQueue("not a table", &collector{}))
	_, ok := s.Queue("not a table")
	require.False(t, ok)
}

func TestServer_CreateQueueWhileStopping(t *testing.T) {
	s, err := NewServer(testConfig(t.TempDir()), WithServerLogger(slogger))
	require.NoError(t, err)

	entered, release := make(chan struct{}), make(chan struct{})
	blocking := SenderFunc(func(context.Context, *Delivery) error {
		close(entered)
		<-release
		return nil
	})

	require.NoError(t, s.CreateQueue("logs", blocking))
	require.NoError(t, s.Start(context.Background()))

	p, _ := s.Producer("logs")
	require.True(t, p.Enqueue("a"))
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	// Stop waits on the blocked shipper; no queue can join meanwhile
	require.Eventually(t, func() bool {
		return errors.Is(s.CreateQueue("late", &collector{}), ErrServerStopping)
	}, 5*time.Second, time.Millisecond)

	close(release)
	require.NoError(t, <-stopped)

	_, ok := s.Queue("late")
	require.False(t, ok)

	// a stopped server accepts queues again
	require.NoError(t, s.CreateQueue("late", &collector{}))
	require.NoError(t, s.Stop())
}

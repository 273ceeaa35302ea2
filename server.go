package logqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/jirevwe/logqueue/queue"
	"github.com/jirevwe/logqueue/queue/sqlite"
	"github.com/prometheus/client_golang/prometheus"
)

// Server hosts the queues of one directory, each with a producer and a
// shipper.
type Server struct {
	cfg        *Config
	mux        *Mux
	logger     *slog.Logger
	reporter   queue.Reporter
	registerer prometheus.Registerer

	mu       sync.Mutex
	queues   map[string]*hostedQueue
	ctx      context.Context
	cancel   context.CancelFunc
	stopping bool
	wg       sync.WaitGroup
}

// ErrServerStopping is returned by CreateQueue while Stop is running.
var ErrServerStopping = errors.New("server is stopping")

type hostedQueue struct {
	store    queue.Queue
	producer *Producer
	shipper  *Shipper
}

type ServerOption func(*Server)

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithServerReporter sets the reporter handed to every queue.
func WithServerReporter(r queue.Reporter) ServerOption {
	return func(s *Server) { s.reporter = r }
}

// WithServerRegisterer registers queue metrics on reg.
func WithServerRegisterer(reg prometheus.Registerer) ServerOption {
	return func(s *Server) { s.registerer = reg }
}

func NewServer(cfg *Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		mux:    NewMux(),
		queues: make(map[string]*hostedQueue),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if s.reporter == nil {
		s.reporter = queue.LogReporter(s.logger)
	}

	return s, nil
}

// CreateQueue opens the named queue, creating it on first use, and ships its
// entries to sender. Calling it again for an open queue only replaces the
// sender.
func (s *Server) CreateQueue(name string, sender Sender) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return fmt.Errorf("create queue %s: %w", name, ErrServerStopping)
	}

	// register first so a running shipper never sees a missing sender
	s.mux.Handle(name, sender)

	if _, ok := s.queues[name]; ok {
		return nil
	}

	opts := []sqlite.Option{
		sqlite.WithLogger(s.logger),
		sqlite.WithReporter(s.reporter),
	}
	if s.registerer != nil {
		opts = append(opts, sqlite.WithRegisterer(s.registerer))
	}

	store, err := sqlite.Open(s.cfg.Directory, name, opts...)
	if err != nil {
		return fmt.Errorf("create queue %s: %w", name, err)
	}

	hq := &hostedQueue{
		store:    store,
		producer: NewProducer(store, s.cfg.producerOptions(s.logger)),
		shipper:  NewShipper(store, s.mux, s.cfg.shipperOptions(s.logger)),
	}
	s.queues[name] = hq

	if s.ctx != nil {
		s.run(hq)
	}

	return nil
}

// Producer returns the producer of an open queue.
func (s *Server) Producer(name string) (*Producer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hq, ok := s.queues[name]
	if !ok {
		return nil, false
	}
	return hq.producer, true
}

// Queue returns an open queue.
func (s *Server) Queue(name string) (queue.Queue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hq, ok := s.queues[name]
	if !ok {
		return nil, false
	}
	return hq.store, true
}

// Start runs a shipper for every queue, including queues created later,
// until ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil || s.stopping {
		return errors.New("server already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, hq := range s.queues {
		s.run(hq)
	}

	s.logger.Info("server started", "directory", s.cfg.Directory, "queues", len(s.queues))
	return nil
}

func (s *Server) run(hq *hostedQueue) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		hq.shipper.Run(s.ctx)
	}()
}

// Stop stops the shippers, flushes the producers and closes every queue.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return ErrServerStopping
	}
	s.stopping = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	// no shipper can be added once stopping is set
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, hq := range s.queues {
		if err := hq.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close producer %s: %w", name, err))
		}
		if err := hq.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue %s: %w", name, err))
		}
		delete(s.queues, name)
	}

	s.ctx, s.cancel = nil, nil
	s.stopping = false
	s.logger.Info("server stopped")

	return errors.Join(errs...)
}

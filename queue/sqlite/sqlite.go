// Package sqlite is a queue.Queue persisted in a SQLite file, one file and
// one table per queue.
//
// A queue file belongs to one process at a time. The first Open in a process
// takes an exclusive lock next to the file and fails if another process holds
// it; later Opens of the same file in the process share its connection, and
// the lock is released when the last of them is closed.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"
	"github.com/jirevwe/logqueue/queue"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
)

var queueNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const dsnParams = "mode=rwc&_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_txlock=immediate"

type Sqlite struct {
	name   string
	path   string
	db     *sqlx.DB
	file   *file
	logger *slog.Logger

	reporter queue.Reporter
	clock    queue.Clock
	metrics  *metrics

	// guarded by file.mu
	closed bool

	insertQuery string
	peekQuery   string
	deleteQuery string
}

var _ queue.Queue = (*Sqlite)(nil)

type options struct {
	logger     *slog.Logger
	reporter   queue.Reporter
	clock      queue.Clock
	registerer prometheus.Registerer
}

type Option func(*options)

// WithLogger sets the logger. It also backs the default reporter.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithReporter sets the collaborator that receives swallowed failures.
func WithReporter(r queue.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

func WithClock(c queue.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRegisterer registers the store's collectors on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Open opens the queue stored at <directory>/<queueName>, creating the
// directory, the file and the schema as needed. Reopening keeps every
// committed entry.
//
// Failures are reported with queue.SeverityWrite and returned as a
// *queue.Error of kind queue.KindInitialization.
func Open(directory, queueName string, opts ...Option) (*Sqlite, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if o.reporter == nil {
		o.reporter = queue.LogReporter(o.logger)
	}
	if o.clock == nil {
		o.clock = queue.NewRealClock()
	}

	s := &Sqlite{
		name:     queueName,
		path:     filepath.Join(directory, queueName),
		logger:   o.logger.With("queue", queueName),
		reporter: o.reporter,
		clock:    o.clock,
	}

	m, err := newMetrics(queueName, o.registerer)
	if err != nil {
		return nil, s.initFailed(fmt.Errorf("register metrics: %w", err))
	}
	s.metrics = m

	if err = s.open(directory); err != nil {
		return nil, s.initFailed(err)
	}

	s.logger.Info("opened queue", "path", s.path)
	return s, nil
}

func (s *Sqlite) open(directory string) (err error) {
	if !queueNamePattern.MatchString(s.name) {
		return fmt.Errorf("invalid queue name %q", s.name)
	}

	table := quote(s.name)
	s.insertQuery = `insert into ` + table + ` (time, message) values ($1, $2)`
	s.peekQuery = `select id, message, time from ` + table + ` order by id limit 1`
	s.deleteQuery = `delete from ` + table + ` where id = $1`

	key, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	files.Lock()
	defer files.Unlock()

	if f, ok := files.byPath[key]; ok {
		f.refs++
		s.file, s.db = f, f.db
		return nil
	}

	if err = os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f := &file{path: key, refs: 1, lock: flock.New(key + ".lock")}
	locked, err := f.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%s is locked by another process", s.path)
	}

	defer func() {
		if err != nil {
			if f.db != nil {
				_ = f.db.Close()
			}
			_ = f.lock.Unlock()
		}
	}()

	f.db, err = sqlx.Open("sqlite3", dsn(key))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// a single connection is the queue's one shared session
	f.db.SetMaxOpenConns(1)
	f.db.SetMaxIdleConns(1)
	f.db.SetConnMaxLifetime(0)

	_, err = f.db.Exec("PRAGMA journal_size_limit = 67108864;")
	if err != nil {
		return fmt.Errorf("apply pragma: %w", err)
	}

	s.file, s.db = f, f.db
	if err = s.initSchema(context.Background()); err != nil {
		return err
	}

	files.byPath[key] = f
	return nil
}

// dsn escapes path into a file: URI so that '?' and '#' in directory names
// stay part of the file name.
func dsn(path string) string {
	u := &url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: dsnParams}
	return u.String()
}

func (s *Sqlite) initFailed(err error) error {
	qErr := s.wrap(queue.KindInitialization, "open", err)
	s.reporter.Report("Unable to create local database for log queue", qErr, queue.SeverityWrite)
	return qErr
}

// Name returns the queue name, which is also the table name.
func (s *Sqlite) Name() string { return s.name }

// Path returns the location of the database file.
func (s *Sqlite) Path() string { return s.path }

// Enqueue persists message and reports whether it was committed. A false
// return means the message was not stored.
func (s *Sqlite) Enqueue(message string) bool {
	if _, err := s.Write(context.Background(), message); err != nil {
		s.reporter.Report("Unable to persist log message", err, queue.SeverityWrite)
		return false
	}
	return true
}

// PeekOldest returns the pending entry with the smallest id without removing
// it. It returns false both for an empty queue and for a failed read; the
// failure only shows up in the reporter. Use Peek to tell them apart.
func (s *Sqlite) PeekOldest() (queue.Entry, bool) {
	entry, err := s.Peek(context.Background())
	if err != nil {
		if !errors.Is(err, queue.ErrEmpty) {
			s.reporter.Report("Unable to query the embedded db", err, queue.SeverityRead)
		}
		return queue.Entry{}, false
	}
	return entry, true
}

// Acknowledge deletes the entry with id. It returns true only if exactly one
// entry was removed; unknown ids return false without a report.
func (s *Sqlite) Acknowledge(id int64) bool {
	err := s.Delete(context.Background(), id)
	if err != nil {
		if !errors.Is(err, queue.ErrNotFound) {
			s.reporter.Report("Unable to delete log message", err, queue.SeverityWrite)
		}
		return false
	}
	return true
}

// Write puts message at the tail of the queue and returns the stored entry.
func (s *Sqlite) Write(ctx context.Context, message string) (entry queue.Entry, err error) {
	defer s.metrics.observe("write", time.Now())

	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	if s.closed {
		return entry, s.wrap(queue.KindWrite, "write", queue.ErrClosed)
	}

	entry.Message = message
	entry.Time = s.clock.Now()

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, innerErr := tx.ExecContext(ctx, s.insertQuery, entry.Time, entry.Message)
		if innerErr != nil {
			return innerErr
		}

		entry.Id, innerErr = res.LastInsertId()
		return innerErr
	})
	if err != nil {
		return queue.Entry{}, s.wrap(queue.KindWrite, "write", err)
	}

	s.metrics.enqueued.Inc()
	return entry, nil
}

// Peek returns the oldest pending entry, or queue.ErrEmpty.
func (s *Sqlite) Peek(ctx context.Context) (entry queue.Entry, err error) {
	defer s.metrics.observe("peek", time.Now())

	s.file.mu.RLock()
	defer s.file.mu.RUnlock()

	if s.closed {
		return entry, s.wrap(queue.KindRead, "peek", queue.ErrClosed)
	}

	entries := make([]queue.Entry, 0, 1)
	if err = s.db.SelectContext(ctx, &entries, s.peekQuery); err != nil {
		return entry, s.wrap(queue.KindRead, "peek", err)
	}

	if len(entries) == 0 {
		return entry, queue.ErrEmpty
	}

	return entries[0], nil
}

// Delete removes the entry with id, or returns queue.ErrNotFound.
func (s *Sqlite) Delete(ctx context.Context, id int64) (err error) {
	defer s.metrics.observe("delete", time.Now())

	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	if s.closed {
		return s.wrap(queue.KindWrite, "delete", queue.ErrClosed)
	}

	var deleted int64
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, innerErr := tx.ExecContext(ctx, s.deleteQuery, id)
		if innerErr != nil {
			return innerErr
		}

		deleted, innerErr = res.RowsAffected()
		return innerErr
	})
	if err != nil {
		return s.wrap(queue.KindWrite, "delete", err)
	}

	if deleted != 1 {
		return queue.ErrNotFound
	}

	s.metrics.acknowledged.Inc()
	return nil
}

// Len counts the pending entries.
func (s *Sqlite) Len(ctx context.Context) (n int64, err error) {
	s.file.mu.RLock()
	defer s.file.mu.RUnlock()

	if s.closed {
		return 0, s.wrap(queue.KindRead, "len", queue.ErrClosed)
	}

	if err = s.db.GetContext(ctx, &n, `select count(*) from `+quote(s.name)); err != nil {
		return 0, s.wrap(queue.KindRead, "len", err)
	}
	return n, nil
}

// List returns up to limit pending entries, oldest first. A limit of zero or
// less returns every entry.
func (s *Sqlite) List(ctx context.Context, limit int) ([]queue.Entry, error) {
	s.file.mu.RLock()
	defer s.file.mu.RUnlock()

	if s.closed {
		return nil, s.wrap(queue.KindRead, "list", queue.ErrClosed)
	}

	if limit <= 0 {
		limit = -1
	}

	var entries []queue.Entry
	query := `select id, message, time from ` + quote(s.name) + ` order by id limit $1`
	if err := s.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, s.wrap(queue.KindRead, "list", err)
	}
	return entries, nil
}

// Close detaches the store from its file. Closing the last store open on the
// file closes the database and releases the queue lock. It is safe to call
// more than once.
func (s *Sqlite) Close() error {
	s.file.mu.Lock()
	if s.closed {
		s.file.mu.Unlock()
		return nil
	}
	s.closed = true
	s.file.mu.Unlock()

	err := s.file.release()
	s.logger.Info("closed queue")
	return err
}

func (s *Sqlite) wrap(kind queue.Kind, op string, err error) error {
	s.metrics.failed(kind)
	return &queue.Error{Kind: kind, Op: op, Queue: s.name, Err: err}
}

func (s *Sqlite) inTx(ctx context.Context, cb func(*sqlx.Tx) error) (err error) {
	tx, txErr := s.db.BeginTxx(ctx, nil)
	if txErr != nil {
		return fmt.Errorf("cannot start tx: %w", txErr)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = rollback(tx, fmt.Errorf("panic in tx: %v", rec))
		}
	}()

	if err = cb(tx); err != nil {
		return rollback(tx, err)
	}

	if txErr = tx.Commit(); txErr != nil {
		return fmt.Errorf("cannot commit tx: %w", txErr)
	}

	return nil
}

func rollback(tx *sqlx.Tx, err error) error {
	if txErr := tx.Rollback(); txErr != nil {
		return fmt.Errorf("cannot roll back tx after error (tx error: %v), original error: %w", txErr, err)
	}
	return err
}

func quote(name string) string {
	return `"` + name + `"`
}

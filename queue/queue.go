// Package queue defines the entries, errors and collaborators shared by
// durable log queue implementations.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Severity codes passed to a Reporter.
const (
	SeverityWrite = 1
	SeverityRead  = 2
)

var (
	// ErrEmpty is returned by Peek when no entry is pending.
	ErrEmpty = errors.New("queue is empty")

	// ErrNotFound is returned by Delete when the id is not pending.
	ErrNotFound = errors.New("entry not found")

	// ErrClosed is returned by every operation on a closed queue.
	ErrClosed = errors.New("queue is closed")

	ErrInitialization = errors.New("initialization error")
	ErrWrite          = errors.New("write error")
	ErrRead           = errors.New("read error")
)

// Queue is a durable FIFO of log records.
//
// Enqueue, PeekOldest and Acknowledge report failures to the queue's Reporter
// and return a sentinel; Write, Peek and Delete return the error instead.
type Queue interface {
	Name() string

	// Enqueue persists message and reports whether it was committed.
	Enqueue(message string) bool

	// PeekOldest returns the pending entry with the smallest id. A failed read
	// also returns false, so callers cannot tell it apart from an empty queue.
	PeekOldest() (Entry, bool)

	// Acknowledge removes the entry with the given id and reports whether
	// exactly one entry was removed.
	Acknowledge(id int64) bool

	Write(ctx context.Context, message string) (Entry, error)
	Peek(ctx context.Context) (Entry, error)
	Delete(ctx context.Context, id int64) error
	Len(ctx context.Context) (int64, error)
	List(ctx context.Context, limit int) ([]Entry, error)

	Close() error
}

// Entry is one queued log record.
type Entry struct {
	Id      int64  `json:"id" db:"id" msgpack:"id"`
	Message string `json:"message" db:"message" msgpack:"message"`
	Time    int64  `json:"time" db:"time" msgpack:"time"`
}

// Timestamp converts the entry's clock reading to a time.Time.
func (e Entry) Timestamp() time.Time {
	return time.Unix(0, e.Time)
}

// Kind classifies queue failures.
type Kind int

const (
	KindInitialization Kind = iota + 1
	KindWrite
	KindRead
)

func (k Kind) String() string {
	switch k {
	case KindInitialization:
		return "initialization"
	case KindWrite:
		return "write"
	case KindRead:
		return "read"
	default:
		return "unknown"
	}
}

// Severity returns the reporter severity code for the kind.
func (k Kind) Severity() int {
	if k == KindRead {
		return SeverityRead
	}
	return SeverityWrite
}

// Error is a failure of a queue operation.
type Error struct {
	Kind  Kind
	Op    string
	Queue string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("queue %s: %s: %s: %v", e.Queue, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels ErrInitialization, ErrWrite and ErrRead.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInitialization:
		return e.Kind == KindInitialization
	case ErrWrite:
		return e.Kind == KindWrite
	case ErrRead:
		return e.Kind == KindRead
	}
	return false
}

// Reporter receives every failure a queue swallows.
type Reporter interface {
	Report(message string, cause error, severity int)
}

// The ReporterFunc type is an adapter to allow the use of
// ordinary functions as a Reporter.
type ReporterFunc func(message string, cause error, severity int)

// Report calls fn(message, cause, severity)
func (fn ReporterFunc) Report(message string, cause error, severity int) {
	fn(message, cause, severity)
}

// NopReporter discards reports.
func NopReporter() Reporter {
	return ReporterFunc(func(string, error, int) {})
}

// LogReporter writes reports to log at error level.
func LogReporter(log *slog.Logger) Reporter {
	return ReporterFunc(func(message string, cause error, severity int) {
		log.Error(message, "error", cause, "severity", severity)
	})
}

// Clock yields the time column of new entries, in nanoseconds.
type Clock interface {
	Now() int64
}

// RealClock reads the wall clock once and advances from it with the
// monotonic clock, so readings never go backwards within a process.
type RealClock struct {
	base time.Time
}

func NewRealClock() *RealClock {
	return &RealClock{base: time.Now()}
}

func (c *RealClock) Now() int64 {
	return c.base.UnixNano() + int64(time.Since(c.base))
}

// Package pool runs tasks on a fixed set of goroutines fed by a bounded
// buffer.
package pool

// Pool accepts tasks between Start and Stop.
type Pool interface {
	Start()

	// Stop refuses new tasks and returns once every task already accepted
	// has run.
	Stop() error

	// AddWork queues t, blocking while the buffer is full. It fails with
	// ErrWorkerPoolClosed after Stop.
	AddWork(t Task) error

	// AddWorkNonBlocking queues t from a new goroutine. An AddWork error
	// goes to errChan, or to the pool's log when errChan is nil.
	AddWorkNonBlocking(t Task, errChan chan error)
}

// Task is one unit of work. A worker calls OnFailure with the error returned
// by Execute, or with the value Execute panicked with.
type Task interface {
	Execute() error
	OnFailure(err error)
}

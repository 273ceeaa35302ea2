package pool

import (
	"fmt"
	"log/slog"
	"sync"
)

type Worker struct {
	// the worker id
	id string

	// channel from which the worker consumes work
	tasks <-chan Task

	// used to signal the pool to clean itself up
	wg *sync.WaitGroup

	log *slog.Logger
}

func NewWorker(id string, tasks <-chan Task, wg *sync.WaitGroup, log *slog.Logger) *Worker {
	return &Worker{
		id:    id,
		wg:    wg,
		log:   log,
		tasks: tasks,
	}
}

// Start processes tasks until the tasks channel is closed and drained.
func (w *Worker) Start() {
	w.log.Debug(fmt.Sprintf("starting worker %s", w.id))

	defer func() {
		w.wg.Done()
		w.log.Debug(fmt.Sprintf("worker %s has been stopped", w.id))
	}()

	for task := range w.tasks {
		w.execute(task)
	}
}

func (w *Worker) execute(task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			task.OnFailure(fmt.Errorf("worker %s: task panicked: %v", w.id, rec))
		}
	}()

	if err := task.Execute(); err != nil {
		task.OnFailure(err)
	}
}

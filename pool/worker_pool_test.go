package pool

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var slogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type TestTask struct {
	executeFunc    func() error
	wg             *sync.WaitGroup
	mFailure       *sync.Mutex
	failureHandled bool
}

func NewTestTask(executeFunc func() error, wg *sync.WaitGroup) *TestTask {
	return &TestTask{
		executeFunc: executeFunc,
		wg:          wg,
		mFailure:    &sync.Mutex{},
	}
}

func (t *TestTask) Execute() error {
	if t.wg != nil {
		defer t.wg.Done()
	}

	if t.executeFunc != nil {
		return t.executeFunc()
	}

	return nil
}

func (t *TestTask) OnFailure(e error) {
	t.mFailure.Lock()
	defer t.mFailure.Unlock()

	t.failureHandled = true
}

func (t *TestTask) hitFailureCase() bool {
	t.mFailure.Lock()
	defer t.mFailure.Unlock()

	return t.failureHandled
}

type counterTest struct {
	count int
	mu    *sync.Mutex
}

func NewCounterTest() *counterTest {
	return &counterTest{
		count: 0,
		mu:    &sync.Mutex{},
	}
}

func (c *counterTest) Inc() error {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return nil
}

func (c *counterTest) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func TestWorkerPool_MultipleStartStopDontPanic(t *testing.T) {
	p := NewWorkerPool(5, 1, slogger)

	// We're just checking to make sure multiple
	// calls to start or stop don't cause a panic
	p.Start()
	p.Start()

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
}

func TestWorkerPool_Work(t *testing.T) {
	var tasks []*TestTask
	wg := &sync.WaitGroup{}
	c := NewCounterTest()

	for i := 0; i < 20; i++ {
		wg.Add(1)
		tasks = append(tasks, NewTestTask(c.Inc, wg))
	}

	p := NewWorkerPool(5, uint(len(tasks)), slogger)
	p.Start()

	for _, j := range tasks {
		require.NoError(t, p.AddWork(j))
	}

	// we'll get a timeout failure if the tasks weren't processed
	wg.Wait()
	require.Equal(t, 20, c.Count())

	for taskNum, task := range tasks {
		if task.hitFailureCase() {
			t.Fatalf("error function called on task %d when it shouldn't be", taskNum)
		}
	}
}

func TestWorkerPool_FailureAndPanic(t *testing.T) {
	p := NewWorkerPool(2, 2, slogger)
	p.Start()

	failing := NewTestTask(func() error { return errors.New("boom") }, nil)
	panicking := NewTestTask(func() error { panic("boom") }, nil)

	require.NoError(t, p.AddWork(failing))
	require.NoError(t, p.AddWork(panicking))
	require.NoError(t, p.Stop())

	require.True(t, failing.hitFailureCase())
	require.True(t, panicking.hitFailureCase())
}

func TestWorkerPool_ProcessRemainingTasksAfterStop(t *testing.T) {
	p := NewWorkerPool(1, 60, slogger)
	c := NewCounterTest()

	for i := 0; i < 60; i++ {
		require.NoError(t, p.AddWork(NewTestTask(c.Inc, nil)))
	}

	p.Start()
	require.NoError(t, p.Stop())

	// Stop drains everything that was buffered
	require.Equal(t, 60, c.Count())
}

func TestWorkerPool_AddWorkAfterStop(t *testing.T) {
	p := NewWorkerPool(1, 1, slogger)
	p.Start()
	require.NoError(t, p.Stop())

	require.ErrorIs(t, p.AddWork(NewTestTask(nil, nil)), ErrWorkerPoolClosed)

	errChan := make(chan error, 1)
	p.AddWorkNonBlocking(NewTestTask(nil, nil), errChan)

	select {
	case err := <-errChan:
		require.ErrorIs(t, err, ErrWorkerPoolClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("no error from AddWorkNonBlocking")
	}
}

func TestWorkerPool_RaceConditionOnStop(t *testing.T) {
	p := NewWorkerPool(10, 10, slogger)
	p.Start()
	c := NewCounterTest()

	wg := &sync.WaitGroup{}
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// either accepted or rejected, never a panic on a closed channel
			err := p.AddWork(NewTestTask(c.Inc, nil))
			if err != nil {
				require.ErrorIs(t, err, ErrWorkerPoolClosed)
			}
		}()
	}

	// Stop the worker pool concurrently
	go func() {
		require.NoError(t, p.Stop())
	}()

	done := make(chan struct{})
	go func() {
		// wait on our AddWork calls to complete, then signal on the done channel
		wg.Wait()
		close(done)
	}()

	// wait until either we hit our timeout, or we're told the AddWork calls completed
	select {
	case <-time.After(10 * time.Second):
		t.Fatal("failed because still hanging on AddWork")
	case <-done:
		// this is the success case
	}
}

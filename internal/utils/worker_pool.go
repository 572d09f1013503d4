package utils

import (
	"context"
	"sync"
)

// WorkerPool bounds the number of tasks executing at the same time.
type WorkerPool struct {
	size  int
	tasks chan func()
	wg    sync.WaitGroup
}

// NewWorkerPool starts size workers. A size below one is raised to one.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}

	wp := &WorkerPool{
		size:  size,
		tasks: make(chan func()),
	}

	wp.wg.Add(size)
	for range size {
		go wp.loop()
	}

	return wp
}

// Size returns the number of workers.
func (wp *WorkerPool) Size() int {
	return wp.size
}

func (wp *WorkerPool) loop() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		task()
	}
}

// Submit hands task to an idle worker, waiting until one is free or ctx is done.
// It reports whether the task was accepted.
func (wp *WorkerPool) Submit(ctx context.Context, task func()) bool {
	select {
	case wp.tasks <- task:
		return true
	case <-ctx.Done():
		return false
	}
}

// Shutdown waits for running tasks to finish and stops the workers.
// Submit must not be called after Shutdown.
func (wp *WorkerPool) Shutdown() {
	close(wp.tasks)
	wp.wg.Wait()
}

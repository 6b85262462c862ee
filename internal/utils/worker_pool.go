package utils

import (
	"sync"
)

// Job represents a task to be executed by a worker.
type Job struct {
	Task func()
}

// WorkerPool manages a fixed set of workers. The relay server pushes its
// broadcast fan-out sends through a pool so one slow consumer cannot stall
// the reader goroutine that produced the event.
type WorkerPool struct {
	workers   int
	jobQueue  chan Job
	waitGroup sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a new WorkerPool with the specified number of workers.
func NewWorkerPool(workers int) *WorkerPool {
	pool := &WorkerPool{
		workers:  workers,
		jobQueue: make(chan Job, workers*4),
	}

	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

// worker processes jobs from the jobQueue.
func (wp *WorkerPool) worker() {
	defer wp.waitGroup.Done()
	for job := range wp.jobQueue {
		job.Task()
	}
}

// Submit adds a new job to the worker pool. Jobs submitted after Shutdown
// are dropped; a read loop racing the server's shutdown must not panic on a
// closed queue.
func (wp *WorkerPool) Submit(task func()) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return
	}
	wp.jobQueue <- Job{Task: task}
}

// Shutdown waits for all queued jobs to finish and closes the pool. It is
// safe to call more than once.
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobQueue)
	wp.mu.Unlock()

	wp.waitGroup.Wait()
}

// Package serial runs jobs in arrival order per key while different keys run
// in parallel.
package serial

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("serial: executor closed")

// Executor keeps one FIFO queue per key. A queue is drained by a single
// goroutine that exits once the queue is empty; Workers bounds how many
// queues run at the same time.
type Executor struct {
	mu     sync.Mutex
	queues map[string][]func()
	slots  chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// New returns an executor running at most workers keys concurrently; workers <= 0 means 64.
func New(workers int) *Executor {
	if workers <= 0 {
		workers = 64
	}
	return &Executor{
		queues: make(map[string][]func()),
		slots:  make(chan struct{}, workers),
	}
}

// Submit appends job to the queue of key.
func (e *Executor) Submit(key string, job func()) error {
	if job == nil {
		return errors.New("serial: nil job")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	q, running := e.queues[key]
	e.queues[key] = append(q, job)
	if !running {
		e.wg.Add(1)
		go e.drain(key)
	}
	return nil
}

func (e *Executor) drain(key string) {
	defer e.wg.Done()
	e.slots <- struct{}{}
	defer func() { <-e.slots }()
	for {
		e.mu.Lock()
		q := e.queues[key]
		if len(q) == 0 {
			delete(e.queues, key)
			e.mu.Unlock()
			return
		}
		job := q[0]
		q[0] = nil
		e.queues[key] = q[1:]
		e.mu.Unlock()

		job()
	}
}

// Pending reports the number of keys with queued or running jobs.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queues)
}

// Close rejects new jobs and waits until every queued job has run.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

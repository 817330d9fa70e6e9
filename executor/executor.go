// Package executor runs tasks strictly one at a time, in submission
// order. The kernel gives every device its own executor so calls to
// one token queue up instead of interleaving.
package executor

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("executor is closed")

type task struct {
	run   func()
	abort func()
}

// Executor owns one worker goroutine and an unbounded FIFO queue.
type Executor struct {
	mutex  sync.Mutex
	cond   *sync.Cond
	queue  []task
	closed bool
}

func New() *Executor {
	e := &Executor{}
	e.cond = sync.NewCond(&e.mutex)
	go e.loop()
	return e
}

// Enqueue schedules a task and returns without waiting for it.
func (e *Executor) Enqueue(run func()) error {
	return e.enqueue(task{run: run, abort: func() {}})
}

func (e *Executor) enqueue(t task) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return ErrClosed
	}
	e.queue = append(e.queue, t)
	e.cond.Signal()
	return nil
}

// Close stops the worker after the task it is currently running.
// Pending tasks are aborted, not run.
func (e *Executor) Close() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	e.cond.Signal()
}

func (e *Executor) loop() {
	for {
		e.mutex.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.closed {
			pending := e.queue
			e.queue = nil
			e.mutex.Unlock()
			for _, t := range pending {
				t.abort()
			}
			return
		}
		t := e.queue[0]
		e.queue = e.queue[1:]
		e.mutex.Unlock()

		t.run()
	}
}

// Do runs fn on the executor and waits for its result.
func Do[T any](e *Executor, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)

	err := e.enqueue(task{
		run: func() {
			value, err := fn()
			ch <- result{value, err}
		},
		abort: func() {
			var zero T
			ch <- result{zero, ErrClosed}
		},
	})
	if err != nil {
		var zero T
		return zero, err
	}

	r := <-ch
	return r.value, r.err
}

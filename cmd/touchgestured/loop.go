package main

import (
	"context"
	"time"
)

// Scheduler runs tasks on the daemon loop goroutine. Every dispatcher
// callback, including proximity results and timeouts, goes through it so the
// dispatcher itself needs no locking.
type Scheduler interface {
	Post(fn func())
	// PostDelayed runs fn on the loop after d. cancel reports whether the
	// task was stopped before it was posted.
	PostDelayed(d time.Duration, fn func()) (cancel func() bool)
}

// Looper is the production Scheduler: a task queue drained by runDaemon.
type Looper struct {
	tasks chan func()
	done  <-chan struct{}
}

// NewLooper creates a loop whose Post calls stop blocking once ctx is done.
func NewLooper(ctx context.Context, buffer int) *Looper {
	return &Looper{
		tasks: make(chan func(), buffer),
		done:  ctx.Done(),
	}
}

// Post queues fn. It drops the task if the loop has shut down.
func (l *Looper) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

func (l *Looper) PostDelayed(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return t.Stop
}

// Tasks exposes the queue to the loop that drains it.
func (l *Looper) Tasks() <-chan func() {
	return l.tasks
}

// Call runs fn on the loop and waits for it to finish. Used by IPC handlers
// that need a consistent view of loop-owned state.
func (l *Looper) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-l.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

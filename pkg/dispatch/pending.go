package dispatch

import (
	"context"
	"time"
)

// PendingRequest is the caller-visible handle for an in-flight task. It is
// resolved exactly once, with either a result or an error; resolution is only
// ever performed by the dispatcher after detaching the request from the queue
// slot or unit binding that held it, so a second resolution is structurally
// impossible.
type PendingRequest struct {
	task        Task
	enqueueTime time.Time

	// data and err are written once, before done is closed. Readers must
	// observe done first.
	data any
	err  error
	done chan struct{}
}

func newPendingRequest(task Task) *PendingRequest {
	return &PendingRequest{
		task: task,
		done: make(chan struct{}),
	}
}

// Task returns the submitted task.
func (p *PendingRequest) Task() Task {
	return p.task
}

// Done is closed once the request has reached a terminal state.
func (p *PendingRequest) Done() <-chan struct{} {
	return p.done
}

// Outcome returns the resolution, blocking until the request reaches a
// terminal state. Use Wait to bound the wait with a context.
func (p *PendingRequest) Outcome() (any, error) {
	<-p.done
	return p.data, p.err
}

// Wait blocks until the request resolves or ctx is done. Cancelling the wait
// does not withdraw the task; it keeps running and its eventual outcome is
// discarded.
func (p *PendingRequest) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.data, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PendingRequest) resolve(data any, err error) {
	p.data = data
	p.err = err
	close(p.done)
}

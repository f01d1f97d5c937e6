package dispatch

import (
	"time"
)

// handle wraps one provisioned execution unit together with its binding
// state. A handle is either idle (cur == nil) or busy (cur != nil); it is
// created at provisioning and lives until shutdown. All fields are guarded by
// the dispatcher mutex.
type handle struct {
	unit Unit

	// cur is the request currently bound to the unit, nil when idle.
	cur *PendingRequest
	// seq increments per assignment and guards timers against resolving a
	// later binding of the same handle.
	seq uint64
	// timer enforces the task timeout for the current binding.
	timer *time.Timer
	// stale counts terminal messages still owed by timed-out bindings.
	// The unit processes inputs in order, so the next stale terminal
	// messages belong to abandoned tasks and must be discarded before a
	// message can be attributed to the current binding.
	stale int

	started time.Time
}

// unitPool owns every provisioned handle and tracks the subset that is idle.
// Assignment order is the order units became available (FIFO). Not safe for
// concurrent use; the dispatcher serializes access under its mutex.
type unitPool struct {
	handles []*handle
	idle    []*handle
}

func newUnitPool() *unitPool {
	return &unitPool{}
}

// add registers a freshly provisioned handle as idle.
func (p *unitPool) add(h *handle) {
	p.handles = append(p.handles, h)
	p.idle = append(p.idle, h)
}

// acquire returns an idle handle and marks it busy, or nil when none is
// available.
func (p *unitPool) acquire() *handle {
	if len(p.idle) == 0 {
		return nil
	}
	h := p.idle[0]
	p.idle = p.idle[1:]
	return h
}

// release marks the handle idle again. It must be called exactly once per
// task completion, including on timeout.
func (p *unitPool) release(h *handle) {
	p.idle = append(p.idle, h)
}

func (p *unitPool) size() int {
	return len(p.handles)
}

func (p *unitPool) idleCount() int {
	return len(p.idle)
}

// terminateAll force-stops every unit. Unit.Terminate is idempotent, so the
// call is safe to repeat.
func (p *unitPool) terminateAll() {
	for _, h := range p.handles {
		h.unit.Terminate()
	}
}

package unit

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/godispatch/offload/pkg/dispatch"
)

var (
	// ErrTerminated is returned by Send after the unit has been terminated.
	ErrTerminated = errors.New("execution unit is terminated")

	// ErrSaturated is returned by Send when the unit cannot accept more
	// input. The dispatcher only sends to units it considers idle, so this
	// surfaces only when earlier inputs timed out and are still pending
	// inside the unit.
	ErrSaturated = errors.New("execution unit cannot accept more input")
)

// progressBuffer bounds how many unread progress reports a computation may
// have outstanding. Progress is advisory; reports beyond the buffer are
// dropped instead of blocking the computation.
const progressBuffer = 16

// Runner is the computation an in-process unit performs for one input. The
// context is cancelled when the unit terminates. report publishes a
// non-terminal progress update.
type Runner interface {
	Run(ctx context.Context, env dispatch.Envelope, report func(any)) (any, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, env dispatch.Envelope, report func(any)) (any, error)

func (f RunnerFunc) Run(ctx context.Context, env dispatch.Envelope, report func(any)) (any, error) {
	return f(ctx, env, report)
}

// InProcess is an execution unit backed by a goroutine in the same process.
// It consumes one envelope at a time, hands it to the runner and emits the
// runner's progress reports followed by exactly one terminal message per
// envelope. Inputs are processed in the order they were sent.
type InProcess struct {
	id     string
	runner Runner
	logger log.Logger

	inputs chan dispatch.Envelope
	out    chan dispatch.Message

	ctx       context.Context
	cancel    context.CancelFunc
	terminate sync.Once
}

var _ dispatch.Unit = (*InProcess)(nil)

// New starts an in-process unit running r. Terminate it to release the
// goroutine.
func New(id string, r Runner, logger log.Logger) *InProcess {
	ctx, cancel := context.WithCancel(context.Background())
	u := &InProcess{
		id:     id,
		runner: r,
		logger: log.With(logger, "unit", id),
		inputs: make(chan dispatch.Envelope, 1),
		out:    make(chan dispatch.Message),
		ctx:    ctx,
		cancel: cancel,
	}
	go u.loop()
	return u
}

// Factory returns a dispatch.Factory provisioning in-process units that all
// share the runner r.
func Factory(r Runner, logger log.Logger) dispatch.Factory {
	return func(id string) (dispatch.Unit, error) {
		return New(id, r, logger), nil
	}
}

func (u *InProcess) ID() string { return u.id }

// Send queues one envelope for execution without blocking. The input buffer
// holds a single envelope beyond the one being processed; a slot is only
// occupied across assignments when a previous input timed out.
func (u *InProcess) Send(env dispatch.Envelope) error {
	select {
	case <-u.ctx.Done():
		return ErrTerminated
	default:
	}
	select {
	case u.inputs <- env:
		return nil
	default:
		return ErrSaturated
	}
}

// Messages returns the unit's output stream. It is closed once the unit has
// terminated.
func (u *InProcess) Messages() <-chan dispatch.Message {
	return u.out
}

// Terminate stops the unit. A computation in flight is abandoned: its
// goroutine is left to observe the cancelled context, and the message stream
// closes without a terminal message for it. Terminate is idempotent.
func (u *InProcess) Terminate() {
	u.terminate.Do(u.cancel)
}

func (u *InProcess) loop() {
	defer close(u.out)

	level.Debug(u.logger).Log("msg", "execution unit started")
	for {
		select {
		case <-u.ctx.Done():
			level.Debug(u.logger).Log("msg", "execution unit terminated")
			return
		case env := <-u.inputs:
			if !u.process(env) {
				level.Debug(u.logger).Log("msg", "execution unit terminated")
				return
			}
		}
	}
}

type outcome struct {
	data any
	err  error
}

// process runs one envelope to its terminal message. It reports false when
// the unit terminated before the runner finished; the runner's goroutine is
// then abandoned and whatever it returns is discarded.
func (u *InProcess) process(env dispatch.Envelope) bool {
	var (
		res      = make(chan outcome, 1)
		progress = make(chan any, progressBuffer)
	)

	// The runner executes on its own goroutine so that termination never
	// waits on a computation that ignores context cancellation.
	go func() {
		data, err := u.runner.Run(u.ctx, env, func(p any) {
			select {
			case progress <- p:
			default:
			}
		})
		res <- outcome{data: data, err: err}
	}()

	for {
		select {
		case <-u.ctx.Done():
			return false
		case p := <-progress:
			if !u.emit(dispatch.Message{Type: dispatch.MessageProgress, Data: p}) {
				return false
			}
		case r := <-res:
			if r.err != nil {
				level.Debug(u.logger).Log("msg", "task failed", "kind", env.Kind, "err", r.err)
				return u.emit(dispatch.Message{Type: dispatch.MessageError, Err: r.err})
			}
			return u.emit(dispatch.Message{Type: dispatch.MessageResult, Data: r.data})
		}
	}
}

// emit delivers one message, giving up when the unit terminates first so the
// loop can close the stream instead of blocking on a consumer that is gone.
func (u *InProcess) emit(msg dispatch.Message) bool {
	select {
	case u.out <- msg:
		return true
	case <-u.ctx.Done():
		return false
	}
}

package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Dispatcher hands tasks to a fixed pool of execution units and queues the
// overflow in submission order. It is a dskit service: call
// services.StartAndAwaitRunning before submitting and
// services.StopAndAwaitTerminated to shut it down.
//
// All pool, queue and binding state is guarded by a single mutex. The
// critical sections only move pointers and fire callbacks that do not block,
// so the lock is never held across unit work.
type Dispatcher struct {
	services.Service

	cfg     Config
	factory Factory
	logger  log.Logger
	metrics *metrics

	mtx     sync.Mutex
	pool    *unitPool
	queue   *taskQueue
	stopped bool

	// pumps tracks the per-unit goroutines that forward unit messages.
	pumps sync.WaitGroup
}

// Status is a point-in-time snapshot of the dispatcher.
type Status struct {
	TotalUnits  int `json:"total_units"`
	IdleUnits   int `json:"idle_units"`
	QueuedTasks int `json:"queued_tasks"`
}

// New builds a dispatcher that provisions units through factory when the
// service starts. The registerer may be nil to disable metrics.
func New(cfg Config, factory Factory, logger log.Logger, reg prometheus.Registerer) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, errors.New("unit factory is required")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	d := &Dispatcher{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		metrics: newMetrics(reg),
		pool:    newUnitPool(),
		queue:   newTaskQueue(),
	}
	d.Service = services.NewBasicService(d.starting, d.running, d.stopping).WithName("offload dispatcher")
	return d, nil
}

// poolSize resolves the configured pool size, deriving it from the available
// parallelism when unset.
func (d *Dispatcher) poolSize() int {
	if d.cfg.PoolSize > 0 {
		return d.cfg.PoolSize
	}
	n := runtime.NumCPU()
	if n > maxAutoPoolSize {
		n = maxAutoPoolSize
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (d *Dispatcher) starting(_ context.Context) error {
	target := d.poolSize()

	d.mtx.Lock()
	defer d.mtx.Unlock()

	for i := 0; i < target; i++ {
		u, err := d.factory(fmt.Sprintf("unit-%d", i))
		if err != nil {
			level.Warn(d.logger).Log("msg", "failed to provision execution unit", "unit", i, "err", err)
			d.metrics.provisionFailures.Inc()
			continue
		}
		d.addUnitLocked(u)
	}

	// When the whole batch failed, retry once at size one before accepting a
	// unit-less pool. With zero units the dispatcher still starts; tasks
	// queue until shutdown resolves them.
	if d.pool.size() == 0 {
		u, err := d.factory("unit-0-retry")
		if err != nil {
			level.Error(d.logger).Log("msg", "no execution units available, tasks will queue until shutdown", "err", err)
			d.metrics.provisionFailures.Inc()
		} else {
			d.addUnitLocked(u)
		}
	}

	d.metrics.unitsProvisioned.Set(float64(d.pool.size()))
	level.Info(d.logger).Log("msg", "dispatcher started", "units", d.pool.size(), "requested", target)

	// Tasks may have been submitted while the pool was still empty.
	d.drainLocked()
	return nil
}

func (d *Dispatcher) addUnitLocked(u Unit) {
	h := &handle{unit: u}
	d.pool.add(h)
	d.pumps.Add(1)
	go d.pump(h)
}

func (d *Dispatcher) running(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// stopping resolves every outstanding request with ErrStopped, terminates the
// units and waits for their message streams to drain. Requests are never left
// dangling across shutdown.
func (d *Dispatcher) stopping(_ error) error {
	d.mtx.Lock()
	d.stopped = true

	for {
		p, ok := d.queue.dequeue()
		if !ok {
			break
		}
		d.metrics.tasksTotal.WithLabelValues(string(p.task.Kind), outcomeShutdown).Inc()
		p.resolve(nil, ErrStopped)
	}
	d.metrics.queueLength.Set(0)

	for _, h := range d.pool.handles {
		if h.timer != nil {
			h.timer.Stop()
			h.timer = nil
		}
		if h.cur != nil {
			p := h.cur
			h.cur = nil
			h.seq++
			d.metrics.tasksTotal.WithLabelValues(string(p.task.Kind), outcomeShutdown).Inc()
			p.resolve(nil, ErrStopped)
		}
	}
	d.pool.terminateAll()
	d.mtx.Unlock()

	// Units close their message streams once terminated; wait for the pumps
	// to observe that.
	d.pumps.Wait()

	d.metrics.unitsBusy.Set(0)
	level.Info(d.logger).Log("msg", "dispatcher stopped")
	return nil
}

// Submit hands the task to an idle unit, or queues it when the pool is
// saturated. The returned request resolves exactly once; use Wait or Outcome
// to collect the result. Submit itself fails only on admission: invalid
// task, stopped dispatcher, or full queue.
func (d *Dispatcher) Submit(task Task) (*PendingRequest, error) {
	if task.Kind == "" {
		return nil, ErrInvalidTask
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.stopped {
		return nil, ErrStopped
	}

	p := newPendingRequest(task)

	if h := d.pool.acquire(); h != nil {
		d.assignLocked(h, p)
		return p, nil
	}

	if d.cfg.MaxQueued > 0 && d.queue.len() >= d.cfg.MaxQueued {
		d.metrics.tasksRejected.Inc()
		return nil, errors.Wrapf(ErrQueueFull, "%d tasks queued", d.queue.len())
	}
	p.enqueueTime = time.Now()
	d.queue.enqueue(p)
	d.metrics.queueLength.Set(float64(d.queue.len()))
	return p, nil
}

// Do submits the task and waits for its outcome. The context bounds the wait
// only; an abandoned task still runs to completion or timeout.
func (d *Dispatcher) Do(ctx context.Context, task Task) (any, error) {
	p, err := d.Submit(task)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Status reports pool occupancy and queue depth.
func (d *Dispatcher) Status() Status {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return Status{
		TotalUnits:  d.pool.size(),
		IdleUnits:   d.pool.idleCount(),
		QueuedTasks: d.queue.len(),
	}
}

// assignLocked binds the request to the handle and sends the task input to
// the unit. When the send fails the request is resolved with the error and
// the handle goes back to the idle set; no terminal message is owed for an
// input the unit never received. Reports whether the send succeeded.
func (d *Dispatcher) assignLocked(h *handle, p *PendingRequest) bool {
	h.seq++
	seq := h.seq
	h.cur = p
	h.started = time.Now()
	d.metrics.unitsBusy.Set(float64(d.pool.size() - d.pool.idleCount()))

	err := h.unit.Send(Envelope{Kind: p.task.Kind, Payload: p.task.Payload, Options: p.task.Options})
	if err != nil {
		h.cur = nil
		d.metrics.tasksTotal.WithLabelValues(string(p.task.Kind), outcomeUnitError).Inc()
		level.Warn(d.logger).Log("msg", "failed to send task to unit", "task", p.task.ID, "kind", p.task.Kind, "unit", h.unit.ID(), "err", err)
		p.resolve(nil, errors.Wrap(err, "sending task to unit"))
		d.pool.release(h)
		d.metrics.unitsBusy.Set(float64(d.pool.size() - d.pool.idleCount()))
		return false
	}

	if d.cfg.TaskTimeout > 0 {
		h.timer = time.AfterFunc(d.cfg.TaskTimeout, func() {
			d.onTimeout(h, seq)
		})
	}
	return true
}

// releaseLocked returns the handle to the idle set and hands queued tasks to
// whatever capacity freed up.
func (d *Dispatcher) releaseLocked(h *handle) {
	d.pool.release(h)
	d.metrics.unitsBusy.Set(float64(d.pool.size() - d.pool.idleCount()))
	d.drainLocked()
}

// drainLocked assigns queued tasks to idle units, oldest task first.
func (d *Dispatcher) drainLocked() {
	for d.queue.len() > 0 {
		h := d.pool.acquire()
		if h == nil {
			return
		}
		p, _ := d.queue.dequeue()
		d.metrics.queueLength.Set(float64(d.queue.len()))
		d.metrics.queueWait.Observe(time.Since(p.enqueueTime).Seconds())
		d.assignLocked(h, p)
	}
}

// pump forwards messages from one unit to the dispatcher until the unit
// closes its stream.
func (d *Dispatcher) pump(h *handle) {
	defer d.pumps.Done()
	for msg := range h.unit.Messages() {
		d.onUnitMessage(h, msg)
	}
}

func (d *Dispatcher) onUnitMessage(h *handle, msg Message) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	// Shutdown already resolved everything this message could belong to.
	if d.stopped {
		return
	}

	if msg.Type == MessageProgress {
		if h.stale == 0 && h.cur != nil {
			level.Debug(d.logger).Log("msg", "task progress", "task", h.cur.task.ID, "kind", h.cur.task.Kind, "unit", h.unit.ID())
		}
		return
	}

	// The unit processes inputs in order, so terminal messages owed by
	// timed-out tasks arrive before any message for the current binding.
	if h.stale > 0 {
		h.stale--
		d.metrics.staleMessages.Inc()
		level.Debug(d.logger).Log("msg", "discarding terminal message for timed-out task", "unit", h.unit.ID(), "type", msg.Type)
		return
	}

	if h.cur == nil {
		level.Warn(d.logger).Log("msg", "discarding unexpected unit message", "unit", h.unit.ID(), "type", msg.Type)
		return
	}

	p := h.cur
	h.cur = nil
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}

	outcome := outcomeSuccess
	if msg.Type == MessageError {
		outcome = outcomeUnitError
	}
	d.metrics.tasksTotal.WithLabelValues(string(p.task.Kind), outcome).Inc()
	d.metrics.taskDuration.WithLabelValues(string(p.task.Kind), outcome).Observe(time.Since(h.started).Seconds())

	if msg.Type == MessageError {
		p.resolve(nil, msg.Err)
	} else {
		p.resolve(msg.Data, nil)
	}

	d.releaseLocked(h)
}

// onTimeout fires when a task overstays the configured timeout. The unit is
// not terminated: it keeps working on the abandoned task and returns to the
// pool immediately, with the stale counter arming the discard of whatever it
// eventually reports.
func (d *Dispatcher) onTimeout(h *handle, seq uint64) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	// The task may have completed, or the handle may already carry a newer
	// assignment; the sequence number ties the timer to its binding.
	if d.stopped || h.cur == nil || h.seq != seq {
		return
	}

	p := h.cur
	h.cur = nil
	h.timer = nil
	h.stale++

	elapsed := time.Since(h.started)
	d.metrics.tasksTotal.WithLabelValues(string(p.task.Kind), outcomeTimeout).Inc()
	d.metrics.taskDuration.WithLabelValues(string(p.task.Kind), outcomeTimeout).Observe(elapsed.Seconds())
	level.Warn(d.logger).Log("msg", "task timed out", "task", p.task.ID, "kind", p.task.Kind, "unit", h.unit.ID(), "timeout", d.cfg.TaskTimeout)
	p.resolve(nil, errors.Wrapf(ErrTimeout, "task %s exceeded %s", p.task.ID, d.cfg.TaskTimeout))

	d.releaseLocked(h)
}

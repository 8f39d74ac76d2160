// Package engine drives dispatch: a polling loop that drains due jobs
// from the queue once per tick and hands them to the worker in
// time-then-priority order.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"tickq/internal/feed"
	"tickq/internal/job"
	"tickq/internal/queue"
	"tickq/pkg/logx"
)

// DefaultTick bounds dispatch latency. Polling keeps overhead flat at
// the expected scale (hundreds of pending jobs).
const DefaultTick = 500 * time.Millisecond

type Engine struct {
	queue    *queue.Manager
	dispatch chan<- job.Job
	bus      feed.Bus
	log      logx.Logger
	tick     time.Duration

	running atomic.Bool

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

func New(q *queue.Manager, dispatch chan<- job.Job, bus feed.Bus, tick time.Duration, log logx.Logger) *Engine {
	if tick <= 0 {
		tick = DefaultTick
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{queue: q, dispatch: dispatch, bus: bus, tick: tick, log: log}
}

// Running reports whether the polling loop is active.
func (e *Engine) Running() bool { return e.running.Load() }

// Start launches the polling loop. Calling Start on a running engine is
// a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopCh != nil {
		e.log.Debug("engine already running")
		return
	}
	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})
	e.running.Store(true)

	stopCh, done := e.stopCh, e.done
	go e.run(stopCh, done)
	e.log.Info("engine started", logx.Duration("tick", e.tick))
}

// Stop signals the loop and waits for it to exit. Idempotent; no
// dispatches occur after Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	stopCh, done := e.stopCh, e.done
	e.stopCh, e.done = nil, nil
	e.mu.Unlock()

	if stopCh == nil {
		return
	}
	e.running.Store(false)
	close(stopCh)
	<-done
	e.log.Info("engine stopped")
}

func (e *Engine) run(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	feed.Emit(e.bus, "Engine", "Started polling loop")

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		now := time.Now().Unix()
		// One PopReady per tick: all due jobs leave atomically, so a
		// lower-priority job can never overtake across a tick boundary.
		ready := e.queue.PopReady(now)
		for i := range ready {
			j := &ready[i]
			_ = j.MarkRunning()
			feed.Emit(e.bus, "Engine", "Dispatched '%s' (priority %d)", j.Description, j.Priority)
			select {
			case e.dispatch <- *j:
			case <-stopCh:
				// Worker gone or shutdown mid-dispatch: put the
				// in-flight job and the rest of the batch back.
				e.requeue(ready[i:])
				feed.Emit(e.bus, "Engine", "Stopped polling loop")
				return
			}
		}

		select {
		case <-stopCh:
			feed.Emit(e.bus, "Engine", "Stopped polling loop")
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) requeue(jobs []job.Job) {
	for _, j := range jobs {
		// Only the in-flight job was marked Running; the rest of the
		// batch is still Pending.
		if j.Status == job.StatusRunning {
			if err := j.MarkRequeued(); err != nil {
				continue
			}
		}
		if err := e.queue.Push(j); err != nil {
			e.log.Error("requeue on stop failed", logx.Err(err), logx.String("job", j.Description))
		} else {
			feed.Emit(e.bus, "Engine", "Requeued '%s'", j.Description)
		}
	}
}

// Package worker executes dispatched jobs. Job code is addressed by a
// symbolic function name resolved against a registry fixed before the
// loop starts, so persisted jobs stay valid across binary layouts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"tickq/internal/feed"
	"tickq/internal/job"
	"tickq/internal/queue"
	"tickq/internal/storage"
	"tickq/pkg/logx"
)

// Func is a unit of executable job code. out emits lines on the
// activity feed; a returned error or a panic counts as a failed
// attempt.
type Func func(ctx context.Context, out func(string)) error

var ErrUnknownFunction = errors.New("no function registered")

type Worker struct {
	queue *queue.Manager
	bus   feed.Bus
	store storage.Store // may be nil
	log   logx.Logger

	registry map[string]Func
	started  bool

	historySize int
	hmu         sync.Mutex
	history     []storage.RunRecord

	wg sync.WaitGroup
}

func New(q *queue.Manager, bus feed.Bus, store storage.Store, historySize int, log logx.Logger) *Worker {
	if historySize <= 0 {
		historySize = 200
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Worker{
		queue:       q,
		bus:         bus,
		store:       store,
		log:         log,
		registry:    map[string]Func{},
		historySize: historySize,
	}
}

// Register binds a function name. Registration must complete before
// Start; the registry is read-only afterwards.
func (w *Worker) Register(name string, fn Func) error {
	if w.started {
		return errors.New("registry is sealed once the worker starts")
	}
	if name == "" || fn == nil {
		return errors.New("invalid registration")
	}
	w.registry[name] = fn
	return nil
}

// Names returns the registered function names, sorted. For front-end
// display.
func (w *Worker) Names() []string {
	names := make([]string, 0, len(w.registry))
	for n := range w.registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start launches the sequential execution loop. The loop drains the
// dispatch channel and exits when it is closed; Wait() joins it.
func (w *Worker) Start(ctx context.Context, dispatch <-chan job.Job) {
	w.started = true
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx, dispatch)
	}()
}

func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) run(ctx context.Context, dispatch <-chan job.Job) {
	w.log.Debug("worker loop started", logx.Int("functions", len(w.registry)))
	for j := range dispatch {
		w.execOne(ctx, j)
	}
	w.log.Debug("worker loop drained")
}

func (w *Worker) execOne(ctx context.Context, j job.Job) {
	start := time.Now()
	feed.Emit(w.bus, "Worker", "Executing '%s'", j.Description)

	fn, ok := w.registry[j.Function]
	if !ok {
		feed.Emit(w.bus, "Worker", "No function registered for '%s'", j.Function)
		w.fail(ctx, j, start, fmt.Errorf("%w: %q", ErrUnknownFunction, j.Function))
		return
	}

	err := w.invoke(ctx, fn)
	if err != nil {
		w.fail(ctx, j, start, err)
		return
	}

	if err := j.MarkSuccess(); err != nil {
		w.log.Error("status transition rejected", logx.Err(err), logx.String("job", j.Description))
	}
	feed.Emit(w.bus, "Worker", "Done '%s'", j.Description)
	w.record(ctx, j, start, j.RetryCount, nil)
}

// invoke runs the function, converting a panic into an error so one bad
// job cannot take the loop down.
func (w *Worker) invoke(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("panic in job function", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	out := func(line string) { feed.Emit(w.bus, "Task", "%s", line) }
	return fn(ctx, out)
}

// fail applies the retry policy: requeue with an unchanged execution
// time while budget remains, otherwise mark Failed terminally.
func (w *Worker) fail(ctx context.Context, j job.Job, start time.Time, cause error) {
	if j.ShouldRetry() {
		if err := j.IncrementRetry(); err != nil {
			w.log.Error("retry accounting failed", logx.Err(err), logx.String("job", j.Description))
		}
		if err := j.MarkRequeued(); err != nil {
			w.log.Error("status transition rejected", logx.Err(err), logx.String("job", j.Description))
			return
		}
		feed.Emit(w.bus, "Worker", "Retrying '%s' (%d/%d)", j.Description, j.RetryCount, j.MaxRetries)
		if err := w.queue.Push(j); err != nil {
			w.log.Error("retry requeue failed", logx.Err(err), logx.String("job", j.Description))
		}
		return
	}

	if err := j.MarkFailed(); err != nil {
		w.log.Error("status transition rejected", logx.Err(err), logx.String("job", j.Description))
	}
	feed.Emit(w.bus, "Worker", "Failed '%s' after %d attempt(s): %v", j.Description, j.RetryCount+1, cause)
	w.record(ctx, j, start, j.RetryCount, cause)
}

// record captures a terminal outcome in the in-memory ring and, when
// configured, the run-history store.
func (w *Worker) record(ctx context.Context, j job.Job, start time.Time, retries int, cause error) {
	rec := storage.RunRecord{
		JobID:       j.ID.String(),
		Description: j.Description,
		Function:    j.Function,
		Priority:    int(j.Priority),
		Status:      j.Status.String(),
		Attempts:    retries + 1,
		Started:     start,
		Took:        time.Since(start),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}

	w.hmu.Lock()
	w.history = append(w.history, rec)
	if len(w.history) > w.historySize {
		w.history = w.history[len(w.history)-w.historySize:]
	}
	w.hmu.Unlock()

	if w.store != nil {
		if err := w.store.AppendRun(ctx, rec); err != nil {
			w.log.Warn("run history append failed", logx.Err(err), logx.String("job", j.Description))
		}
	}
}

// History returns a copy of the recent terminal outcomes, oldest first.
func (w *Worker) History() []storage.RunRecord {
	w.hmu.Lock()
	defer w.hmu.Unlock()
	out := make([]storage.RunRecord, len(w.history))
	copy(out, w.history)
	return out
}

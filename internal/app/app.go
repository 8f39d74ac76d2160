// Package app wires the scheduler together: configuration, logging,
// persistence, queue, engine, worker, maintenance schedules, and the
// activity feed handed to the front-end.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"tickq/internal/config"
	"tickq/internal/engine"
	"tickq/internal/feed"
	"tickq/internal/job"
	"tickq/internal/persist"
	"tickq/internal/queue"
	"tickq/internal/runtime/supervisor"
	"tickq/internal/storage"
	"tickq/internal/worker"
	"tickq/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	queue   *queue.Manager
	persist *persist.Manager
	store   storage.Store
	bus     feed.Bus
	worker  *worker.Worker
	engine  *engine.Engine

	dispatch  chan job.Job
	snapshots chan []job.Job

	cron          *cron.Cron
	sup           *supervisor.Supervisor
	cfgSub        chan *config.Config
	historyMaxAge time.Duration
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logs.Logger().With(logx.String("comp", "config")))

	tick, err := config.ParseDurationOrDefault("engine.tick", cfg.Engine.Tick, engine.DefaultTick)
	if err != nil {
		return nil, err
	}
	writeInterval, err := config.ParseDurationField("queue.write_interval", cfg.Queue.WriteInterval)
	if err != nil {
		return nil, err
	}
	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	historyMaxAge, err := config.ParseDurationOrDefault("maintenance.history_max_age", cfg.Maintenance.HistoryMaxAge, 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open run-history store: %w", err)
	}

	qm := queue.New(logs.Logger().With(logx.String("comp", "queue")))
	pm := persist.New(cfg.Queue.Path, writeInterval, logs.Logger().With(logx.String("comp", "persist")))
	bus := feed.New()

	dispatchBuf := cfg.Worker.DispatchBuffer
	if dispatchBuf <= 0 {
		dispatchBuf = 64
	}
	dispatch := make(chan job.Job, dispatchBuf)

	w := worker.New(qm, bus, store, cfg.Worker.HistorySize, logs.Logger().With(logx.String("comp", "worker")))
	for name, fn := range worker.Builtins() {
		if err := w.Register(name, fn); err != nil {
			return nil, err
		}
	}

	eng := engine.New(qm, dispatch, bus, tick, logs.Logger().With(logx.String("comp", "engine")))

	snapBuf := cfg.Queue.SnapshotBuffer
	if snapBuf <= 0 {
		snapBuf = 128
	}

	return &App{
		cfgm:          cfgm,
		logs:          logs,
		log:           log,
		queue:         qm,
		persist:       pm,
		store:         store,
		bus:           bus,
		worker:        w,
		engine:        eng,
		dispatch:      dispatch,
		snapshots:     make(chan []job.Job, snapBuf),
		historyMaxAge: historyMaxAge,
	}, nil
}

// Start brings the system up in dependency order: persistence first so
// the queue can replay the stored pending set, then worker, engine, and
// the maintenance schedules.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	loaded, err := a.persist.LoadJobs()
	if err != nil {
		// Recoverable: the corrupt document stays on disk until the
		// next snapshot replaces it.
		a.log.Warn("persisted queue unreadable, starting empty", logx.Err(err))
	}

	a.queue.AttachSnapshots(a.snapshots)
	a.persist.Start(a.snapshots)

	if n := a.queue.Load(reconcile(loaded)); n == 0 {
		a.seed()
	} else {
		a.log.Info("restored pending jobs", logx.Int("jobs", n))
	}

	a.worker.Start(a.sup.Context(), a.dispatch)
	a.engine.Start()

	if err := a.startMaintenance(); err != nil {
		return err
	}

	a.cfgSub = a.cfgm.Subscribe(1)
	a.sup.Go("config-watch", a.cfgm.Watch)
	a.sup.Go("config-apply", a.applyConfigLoop)

	a.log.Info("scheduler up", logx.Int("pending", a.queue.Len()))
	return nil
}

// Stop shuts down in the reverse order: no more dispatches, drain the
// worker, flush the final snapshot, then stop the helpers.
func (a *App) Stop(ctx context.Context) error {
	a.engine.Stop()

	close(a.dispatch)
	a.worker.Wait()

	a.queue.Close()
	a.persist.Wait()

	if a.cron != nil {
		cronCtx := a.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
	}

	if a.sup != nil {
		a.sup.Stop(5 * time.Second)
	}
	if a.store != nil {
		_ = a.store.Close()
	}

	a.log.Info("scheduler down")
	return a.logs.Close()
}

// reconcile adjusts loaded statuses: jobs persisted as Running were
// interrupted mid-execution and return to Pending; terminal jobs are
// dropped from the queue.
func reconcile(loaded []job.Job) []job.Job {
	out := loaded[:0]
	for _, j := range loaded {
		switch j.Status {
		case job.StatusRunning:
			_ = j.MarkRequeued()
			out = append(out, j)
		case job.StatusPending:
			out = append(out, j)
		}
	}
	return out
}

// seed schedules the demo set on a fresh queue.
func (a *App) seed() {
	now := time.Now().Unix()
	demo := []struct {
		offset      int64
		priority    uint8
		description string
		function    string
		maxRetries  int
	}{
		{1, 5, "Backup Database", "backup_fn", 3},
		{3, 1, "Send Emails", "email_fn", 1},
		{1, 1, "Urgent Hotfix", "hotfix_fn", 3},
	}
	for _, d := range demo {
		j, err := job.New(now+d.offset, d.priority, d.description, d.function, d.maxRetries)
		if err != nil {
			a.log.Error("seed job rejected", logx.Err(err), logx.String("job", d.description))
			continue
		}
		if err := a.queue.Push(j); err != nil {
			a.log.Error("seed push failed", logx.Err(err), logx.String("job", d.description))
		}
	}
	a.log.Info("seeded demo jobs", logx.Int("jobs", a.queue.Len()))
}

func (a *App) applyConfigLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.cfgm.Unsubscribe(a.cfgSub)
			return nil
		case cfg, ok := <-a.cfgSub:
			if !ok {
				return nil
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
		}
	}
}

// ---- Front-end surface ----

// Submit validates front-end input and enqueues a new job. timeVal is
// either an absolute Unix timestamp (>= 10^9) or an offset in seconds.
func (a *App) Submit(timeVal int64, priority uint8, description, function string, maxRetries int) (job.Job, error) {
	j, err := job.New(job.ResolveTime(timeVal), priority, description, function, maxRetries)
	if err != nil {
		return job.Job{}, err
	}
	if err := a.queue.Push(j); err != nil {
		return job.Job{}, err
	}
	return j, nil
}

// RemoveJob deletes a pending job by id.
func (a *App) RemoveJob(id uuid.UUID) bool { return a.queue.Remove(id) }

// Snapshot returns the pending set in dispatch order.
func (a *App) Snapshot() []job.Job { return a.queue.Snapshot() }

// Feed returns the activity stream bus for subscription.
func (a *App) Feed() feed.Bus { return a.bus }

// Functions lists the registered function names.
func (a *App) Functions() []string { return a.worker.Names() }

// History returns recent terminal outcomes, oldest first.
func (a *App) History() []storage.RunRecord { return a.worker.History() }

// EngineRunning reports whether the dispatch loop is active.
func (a *App) EngineRunning() bool { return a.engine.Running() }

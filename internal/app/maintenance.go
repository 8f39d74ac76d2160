package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"tickq/internal/config"
	"tickq/pkg/logx"
)

// startMaintenance registers the periodic housekeeping schedules:
// queue diagnostics and run-history pruning.
func (a *App) startMaintenance() error {
	cfg := a.cfgm.Get()

	statsEvery, err := config.ParseDurationOrDefault("maintenance.stats_every", cfg.Maintenance.StatsEvery, 30*time.Second)
	if err != nil {
		return err
	}
	pruneEvery, err := config.ParseDurationOrDefault("maintenance.prune_every", cfg.Maintenance.PruneEvery, time.Hour)
	if err != nil {
		return err
	}

	a.cron = cron.New()

	if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", statsEvery), a.logQueueStats); err != nil {
		return fmt.Errorf("register stats schedule: %w", err)
	}
	if a.store != nil {
		if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", pruneEvery), a.pruneHistory); err != nil {
			return fmt.Errorf("register prune schedule: %w", err)
		}
	}

	a.cron.Start()
	a.log.Debug("maintenance schedules started",
		logx.Duration("stats_every", statsEvery),
		logx.Duration("prune_every", pruneEvery))
	return nil
}

func (a *App) logQueueStats() {
	snap := a.queue.Snapshot()
	writes, werrs := a.persist.Counters()
	fields := []logx.Field{
		logx.Int("pending", len(snap)),
		logx.Bool("engine_running", a.engine.Running()),
		logx.Uint64("snapshot_writes", writes),
		logx.Uint64("snapshot_errors", werrs),
	}
	if len(snap) > 0 {
		fields = append(fields,
			logx.String("next_job", snap[0].Description),
			logx.Int64("next_due", snap[0].ExecutionTime))
	}
	a.log.Info("queue stats", fields...)
}

func (a *App) pruneHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	removed, err := a.store.PruneRuns(ctx, time.Now().Add(-a.historyMaxAge))
	if err != nil {
		a.log.Warn("history prune failed", logx.Err(err))
		return
	}
	if removed > 0 {
		a.log.Info("history pruned", logx.Int64("removed", removed))
	}
}

package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full application configuration. Duration fields are
// time.ParseDuration strings ("500ms", "1m"); empty means the default,
// except queue.write_interval, where empty turns write throttling off.
type Config struct {
	Logging     Logging     `json:"logging"`
	Queue       Queue       `json:"queue"`
	Engine      Engine      `json:"engine"`
	Worker      Worker      `json:"worker"`
	Storage     Storage     `json:"storage"`
	Maintenance Maintenance `json:"maintenance"`
}

type Logging struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	} `json:"file"`
}

type Queue struct {
	Path           string `json:"path"`            // persisted queue document
	WriteInterval  string `json:"write_interval"`  // min delay between disk writes
	SnapshotBuffer int    `json:"snapshot_buffer"` // snapshot channel capacity
}

type Engine struct {
	Tick string `json:"tick"` // polling period
}

type Worker struct {
	DispatchBuffer int `json:"dispatch_buffer"`
	HistorySize    int `json:"history_size"`
}

type Storage struct {
	Driver      string `json:"driver"` // "file" | "sqlite" | "none"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
}

type Maintenance struct {
	StatsEvery    string `json:"stats_every"`     // queue diagnostics period
	PruneEvery    string `json:"prune_every"`     // history prune period
	HistoryMaxAge string `json:"history_max_age"` // prune records older than this
}

func Default() *Config {
	cfg := &Config{}
	cfg.Logging.Level = "INFO"
	cfg.Logging.Console = true
	cfg.Queue.Path = "queue.json"
	cfg.Queue.WriteInterval = "100ms"
	cfg.Queue.SnapshotBuffer = 128
	cfg.Engine.Tick = "500ms"
	cfg.Worker.DispatchBuffer = 64
	cfg.Worker.HistorySize = 200
	cfg.Storage.Driver = "file"
	cfg.Storage.Path = "data/history.jsonl"
	cfg.Maintenance.StatsEvery = "30s"
	cfg.Maintenance.PruneEvery = "1h"
	cfg.Maintenance.HistoryMaxAge = "168h"
	return cfg
}

// ParseDurationField parses a duration string, rejecting negatives.
// Empty input yields 0 (caller substitutes its default).
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// empty/zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

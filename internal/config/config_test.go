package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: DEBUG
  console: true
queue:
  path: /tmp/q.json
  write_interval: 250ms
engine:
  tick: 1s
storage:
  driver: sqlite
  path: /tmp/history.db
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Queue.Path != "/tmp/q.json" {
		t.Fatalf("queue path = %q", cfg.Queue.Path)
	}
	if cfg.Engine.Tick != "1s" {
		t.Fatalf("tick = %q", cfg.Engine.Tick)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
	// Unset sections keep their defaults.
	if cfg.Worker.HistorySize != Default().Worker.HistorySize {
		t.Fatalf("worker defaults lost: %+v", cfg.Worker)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"engine":{"tick":"750ms"}}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Tick != "750ms" {
		t.Fatalf("tick = %q", cfg.Engine.Tick)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", "engine:\n  tick: 1s\nmystery: true\n")

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown top-level field must be rejected")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.Path != "queue.json" {
		t.Fatalf("default queue path = %q", cfg.Queue.Path)
	}
	if !cfg.Logging.Console {
		t.Fatal("default logging must be console")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "500ms", want: 500 * time.Millisecond},
		{raw: " 2m ", want: 2 * time.Minute},
		{raw: "-1s", wantErr: true},
		{raw: "nonsense", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("test.field", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDurationField(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	if d, err := ParseDurationOrDefault("test.field", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("ParseDurationOrDefault empty = (%v, %v)", d, err)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", "engine:\n  tick: 1s\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Simulate a change on disk and a reload.
	if err := os.WriteFile(path, []byte("engine:\n  tick: 2s\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload()

	select {
	case cfg := <-ch:
		if cfg.Engine.Tick != "2s" {
			t.Fatalf("published tick = %q", cfg.Engine.Tick)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}

	// Unchanged content is not republished.
	m.reload()
	select {
	case <-ch:
		t.Fatal("unchanged config republished")
	case <-time.After(100 * time.Millisecond):
	}
}

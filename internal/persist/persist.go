// Package persist makes queue snapshots durable. The writer consumes
// the queue's snapshot channel, coalesces bursts to the latest state,
// and writes with a temp-file-then-rename protocol so the on-disk
// document is always complete.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tickq/internal/job"
	"tickq/pkg/logx"
)

type Manager struct {
	path    string
	log     logx.Logger
	limiter *rate.Limiter

	wg sync.WaitGroup

	mu     sync.Mutex
	writes uint64
	errs   uint64
}

// New creates a persistence manager for the given path. writeInterval
// bounds the disk write frequency; 0 disables the limit.
func New(path string, writeInterval time.Duration, log logx.Logger) *Manager {
	if strings.TrimSpace(path) == "" {
		path = "queue.json"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{path: path, log: log}
	if writeInterval > 0 {
		m.limiter = rate.NewLimiter(rate.Every(writeInterval), 1)
	}
	return m
}

func (m *Manager) Path() string { return m.path }

// LoadJobs reads the persisted queue. A missing or empty file yields an
// empty list; a malformed document is a recoverable error for the
// caller to decide on.
func (m *Manager) LoadJobs() ([]job.Job, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", m.path, err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, nil
	}

	var jobs []job.Job
	if err := json.Unmarshal(b, &jobs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", m.path, err)
	}
	m.log.Info("loaded persisted jobs", logx.Int("jobs", len(jobs)), logx.String("path", m.path))
	return jobs, nil
}

// Start launches the background writer over the snapshot channel. The
// writer exits once the channel is closed, after persisting the final
// snapshot; Wait() joins it.
func (m *Manager) Start(ch <-chan []job.Job) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ch)
	}()
}

func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) run(ch <-chan []job.Job) {
	m.log.Debug("snapshot writer started", logx.String("path", m.path))
	for snap := range ch {
		snap = drainLatest(ch, snap)
		if m.limiter != nil {
			_ = m.limiter.Wait(context.Background())
			// New states may have queued up while throttled.
			snap = drainLatest(ch, snap)
		}
		if err := m.write(snap); err != nil {
			// In-memory state is unaffected; keep consuming.
			m.countWrite(false)
			m.log.Error("snapshot write failed", logx.Err(err), logx.String("path", m.path))
			continue
		}
		m.countWrite(true)
	}
	m.log.Debug("snapshot writer stopped", logx.String("path", m.path))
}

// drainLatest coalesces any backlog, keeping only the newest snapshot.
func drainLatest(ch <-chan []job.Job, cur []job.Job) []job.Job {
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return cur
			}
			cur = s
		default:
			return cur
		}
	}
}

// write serializes the snapshot and swaps it in atomically: bytes land
// in a sibling .tmp file which is fsynced, closed, then renamed over
// the target. Readers never observe a partial document.
func (m *Manager) write(jobs []job.Job) error {
	if jobs == nil {
		jobs = []job.Job{}
	}
	b, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := m.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (m *Manager) countWrite(ok bool) {
	m.mu.Lock()
	if ok {
		m.writes++
	} else {
		m.errs++
	}
	m.mu.Unlock()
}

// Counters reports lifetime successful and failed writes. Diagnostics
// only.
func (m *Manager) Counters() (writes, errs uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes, m.errs
}

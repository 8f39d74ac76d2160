// Package queue holds the authoritative set of pending jobs, ordered by
// execution time then priority. Every membership change publishes a
// fresh snapshot on the persistence channel before the lock is
// released, so consumers observe a linearization of mutations.
package queue

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"tickq/internal/job"
	"tickq/pkg/logx"
)

var ErrNotPending = errors.New("queue accepts only pending jobs")

type Manager struct {
	mu   sync.Mutex
	heap jobHeap

	// snap receives a sorted copy of the full set after every mutation.
	// Emission happens under mu and never blocks: when the buffer is
	// full the oldest queued snapshot is displaced, so the newest state
	// always lands and the writer coalesces to latest anyway.
	snap chan []job.Job

	log logx.Logger
}

func New(log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{log: log}
}

// AttachSnapshots wires the persistence channel. Call before the first
// mutation; the channel is closed by Close() once no more mutations can
// occur.
func (m *Manager) AttachSnapshots(ch chan []job.Job) {
	m.mu.Lock()
	m.snap = ch
	m.mu.Unlock()
}

// Push inserts a Pending job and emits a snapshot.
func (m *Manager) Push(j job.Job) error {
	if j.Status != job.StatusPending {
		return ErrNotPending
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heap.push(j)
	m.emitLocked()
	return nil
}

// Load bulk-inserts jobs at startup and emits a single snapshot.
// Non-pending jobs are skipped; callers reconcile statuses first.
func (m *Manager) Load(jobs []job.Job) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range jobs {
		if j.Status != job.StatusPending {
			continue
		}
		m.heap.push(j)
		n++
	}
	if n > 0 {
		m.emitLocked()
	}
	return n
}

// Pop removes and returns the single best job regardless of readiness.
// Intended for tests and manual drain.
func (m *Manager) Pop() (job.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.heap.pop()
	if ok {
		m.emitLocked()
	}
	return j, ok
}

// PopReady removes and returns all jobs due at now, in dispatch order.
// Emits exactly one snapshot if anything was removed.
func (m *Manager) PopReady(now int64) []job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ready []job.Job
	for {
		j, ok := m.heap.peek()
		if !ok || !j.Ready(now) {
			break
		}
		j, _ = m.heap.pop()
		ready = append(ready, j)
	}
	if len(ready) > 0 {
		m.emitLocked()
	}
	return ready
}

// Remove deletes the job with the given id, reporting whether a removal
// occurred. Emits a snapshot iff a job was removed.
func (m *Manager) Remove(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.heap.remove(id) {
		return false
	}
	m.emitLocked()
	return true
}

// Snapshot returns a consistent point-in-time copy of the current set,
// sorted in dispatch order.
func (m *Manager) Snapshot() []job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.heap)
}

func (m *Manager) Empty() bool { return m.Len() == 0 }

// Close closes the snapshot channel, signalling the persistence writer
// to flush and exit. No mutations may follow.
func (m *Manager) Close() {
	m.mu.Lock()
	ch := m.snap
	m.snap = nil
	m.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (m *Manager) snapshotLocked() []job.Job {
	out := make([]job.Job, len(m.heap))
	copy(out, m.heap)
	sort.Slice(out, func(i, k int) bool { return out[i].Before(out[k]) })
	return out
}

func (m *Manager) emitLocked() {
	if m.snap == nil {
		return
	}
	s := m.snapshotLocked()
	select {
	case m.snap <- s:
		return
	default:
	}
	// Buffer full: displace the oldest queued snapshot and retry once.
	select {
	case <-m.snap:
	default:
	}
	select {
	case m.snap <- s:
	default:
		m.log.Warn("snapshot channel saturated, state change not queued", logx.Int("jobs", len(s)))
	}
}

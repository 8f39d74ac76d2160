package queue

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickq/internal/job"
	"tickq/pkg/logx"
)

func mkJob(t *testing.T, offset int64, priority uint8, desc string) job.Job {
	t.Helper()
	return mkJobAt(t, time.Now().Unix()+offset, priority, desc)
}

func mkJobAt(t *testing.T, at int64, priority uint8, desc string) job.Job {
	t.Helper()
	j, err := job.New(at, priority, desc, "fn", 0)
	require.NoError(t, err)
	return j
}

func TestPushSnapshotSorted(t *testing.T) {
	t.Parallel()
	m := New(logx.Nop())

	base := time.Now().Unix() + 10
	jobs := []job.Job{
		mkJobAt(t, base+20, 1, "c"),
		mkJobAt(t, base, 1, "a"),
		mkJobAt(t, base+10, 9, "b"),
		mkJobAt(t, base, 7, "a-hi"),
	}
	for _, j := range jobs {
		require.NoError(t, m.Push(j))
	}
	require.Equal(t, 4, m.Len())

	snap := m.Snapshot()
	require.Len(t, snap, 4)
	sorted := sort.SliceIsSorted(snap, func(i, k int) bool { return snap[i].Before(snap[k]) })
	assert.True(t, sorted, "snapshot must be sorted by (time asc, priority desc)")
	assert.Equal(t, "a-hi", snap[0].Description)
	assert.Equal(t, "a", snap[1].Description)
	assert.Equal(t, "b", snap[2].Description)
	assert.Equal(t, "c", snap[3].Description)
}

func TestPushRejectsNonPending(t *testing.T) {
	t.Parallel()
	m := New(logx.Nop())

	j := mkJob(t, 10, 1, "x")
	require.NoError(t, j.MarkRunning())
	assert.ErrorIs(t, m.Push(j), ErrNotPending)
	assert.True(t, m.Empty())
}

func TestPopBestFirst(t *testing.T) {
	t.Parallel()
	m := New(logx.Nop())
	require.NoError(t, m.Push(mkJob(t, 20, 1, "later")))
	require.NoError(t, m.Push(mkJob(t, 10, 1, "sooner")))

	j, ok := m.Pop()
	require.True(t, ok)
	assert.Equal(t, "sooner", j.Description)

	j, ok = m.Pop()
	require.True(t, ok)
	assert.Equal(t, "later", j.Description)

	_, ok = m.Pop()
	assert.False(t, ok)
}

func TestPopReadyExactSetAndOrder(t *testing.T) {
	t.Parallel()
	m := New(logx.Nop())

	base := time.Now().Unix() + 1
	due1 := mkJobAt(t, base, 3, "due-lo")
	due2 := mkJobAt(t, base, 7, "due-hi")
	notDue := mkJobAt(t, base+120, 255, "future")
	require.NoError(t, m.Push(due1))
	require.NoError(t, m.Push(notDue))
	require.NoError(t, m.Push(due2))

	ready := m.PopReady(time.Now().Unix() + 1)
	require.Len(t, ready, 2)
	assert.Equal(t, "due-hi", ready[0].Description, "higher priority dispatches first on a time tie")
	assert.Equal(t, "due-lo", ready[1].Description)

	// Remainder untouched.
	require.Equal(t, 1, m.Len())
	snap := m.Snapshot()
	assert.Equal(t, "future", snap[0].Description)
}

func TestPopReadyNoneDue(t *testing.T) {
	t.Parallel()
	m := New(logx.Nop())
	snapCh := make(chan []job.Job, 8)
	m.AttachSnapshots(snapCh)

	require.NoError(t, m.Push(mkJob(t, 300, 1, "future")))
	drain(snapCh)

	ready := m.PopReady(time.Now().Unix())
	assert.Empty(t, ready)
	assert.Equal(t, 1, m.Len())
	// No membership change, no snapshot event.
	assert.Empty(t, snapCh)
}

func TestRemoveIdempotent(t *testing.T) {
	t.Parallel()
	m := New(logx.Nop())
	j := mkJob(t, 10, 1, "x")
	require.NoError(t, m.Push(j))
	require.NoError(t, m.Push(mkJob(t, 20, 1, "y")))

	assert.True(t, m.Remove(j.ID))
	assert.Equal(t, 1, m.Len())

	// Second removal observes the same state and reports false.
	assert.False(t, m.Remove(j.ID))
	assert.Equal(t, 1, m.Len())

	assert.False(t, m.Remove(uuid.New()))
}

func TestMutationEmitsSnapshot(t *testing.T) {
	t.Parallel()
	m := New(logx.Nop())
	snapCh := make(chan []job.Job, 16)
	m.AttachSnapshots(snapCh)

	a := mkJob(t, 10, 1, "a")
	require.NoError(t, m.Push(a))
	s := recvSnap(t, snapCh)
	require.Len(t, s, 1)

	b := mkJob(t, 5, 1, "b")
	require.NoError(t, m.Push(b))
	s = recvSnap(t, snapCh)
	require.Len(t, s, 2)
	assert.Equal(t, "b", s[0].Description, "emitted snapshots are sorted")

	require.True(t, m.Remove(b.ID))
	s = recvSnap(t, snapCh)
	require.Len(t, s, 1)
	assert.Equal(t, a.ID, s[0].ID)

	// Remove miss emits nothing.
	require.False(t, m.Remove(b.ID))
	assert.Empty(t, snapCh)
}

func TestEmitDisplacesOldestWhenFull(t *testing.T) {
	t.Parallel()
	m := New(logx.Nop())
	snapCh := make(chan []job.Job, 1)
	m.AttachSnapshots(snapCh)

	require.NoError(t, m.Push(mkJob(t, 10, 1, "first")))
	require.NoError(t, m.Push(mkJob(t, 10, 1, "second")))

	// The single buffered slot must hold the newest state.
	s := recvSnap(t, snapCh)
	assert.Len(t, s, 2)
}

func TestLoadSkipsNonPending(t *testing.T) {
	t.Parallel()
	m := New(logx.Nop())

	p := mkJob(t, 10, 1, "pending")
	r := mkJob(t, 10, 1, "running")
	require.NoError(t, r.MarkRunning())

	n := m.Load([]job.Job{p, r})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.Len())
}

func TestCloseClosesSnapshotChannel(t *testing.T) {
	t.Parallel()
	m := New(logx.Nop())
	snapCh := make(chan []job.Job, 4)
	m.AttachSnapshots(snapCh)

	m.Close()
	_, ok := <-snapCh
	assert.False(t, ok)
}

func recvSnap(t *testing.T, ch chan []job.Job) []job.Job {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("no snapshot emitted")
		return nil
	}
}

func drain(ch chan []job.Job) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

package queue

import (
	"container/heap"

	"github.com/google/uuid"

	"tickq/internal/job"
)

// jobHeap is a min-heap in dispatch order (earliest execution time
// first, then highest priority, then ID).
type jobHeap []job.Job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, k int) bool { return h[i].Before(h[k]) }
func (h jobHeap) Swap(i, k int)      { h[i], h[k] = h[k], h[i] }
func (h *jobHeap) Push(x any)        { *h = append(*h, x.(job.Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	*h = old[:n-1]
	return j
}

func (h *jobHeap) push(j job.Job) { heap.Push(h, j) }

func (h *jobHeap) pop() (job.Job, bool) {
	if len(*h) == 0 {
		return job.Job{}, false
	}
	return heap.Pop(h).(job.Job), true
}

func (h jobHeap) peek() (job.Job, bool) {
	if len(h) == 0 {
		return job.Job{}, false
	}
	return h[0], true
}

func (h *jobHeap) remove(id uuid.UUID) bool {
	for i, j := range *h {
		if j.ID == id {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}

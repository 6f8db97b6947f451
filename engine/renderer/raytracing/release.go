package raytracing

import (
	"sync"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
)

type destroyer interface {
	Destroy()
}

type retired struct {
	frame     uint64
	resources []destroyer
}

// ReleaseQueue defers destruction of GPU resources until the frame that may
// still reference them has completed on the device.
type ReleaseQueue struct {
	mu      sync.Mutex
	pending *containers.RingQueue[retired]
}

func NewReleaseQueue(capacity int) *ReleaseQueue {
	return &ReleaseQueue{pending: containers.NewRingQueue[retired](capacity)}
}

// Retire schedules resources for destruction once frame has completed.
// Frames must be retired in non-decreasing order.
func (q *ReleaseQueue) Retire(frame uint64, resources ...destroyer) {
	if len(resources) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending.IsFull() {
		q.pending.Grow()
	}
	// Cannot fail after Grow.
	_ = q.pending.Enqueue(retired{frame: frame, resources: resources})
}

// Collect destroys every batch retired at or before completed and returns the
// number of resources destroyed.
func (q *ReleaseQueue) Collect(completed uint64) int {
	q.mu.Lock()
	var ready []retired
	for !q.pending.IsEmpty() {
		next, _ := q.pending.Peek()
		if next.frame > completed {
			break
		}
		next, _ = q.pending.Dequeue()
		ready = append(ready, next)
	}
	q.mu.Unlock()

	n := 0
	for _, batch := range ready {
		for _, r := range batch.resources {
			r.Destroy()
			n++
		}
	}
	if n > 0 {
		core.LogDebug("released %d deferred resources (frame <= %d)", n, completed)
	}
	return n
}

// Drain destroys everything. The device must be idle.
func (q *ReleaseQueue) Drain() int {
	return q.Collect(^uint64(0))
}

// Len returns the number of pending batches.
func (q *ReleaseQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

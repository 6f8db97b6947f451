package software

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

type Queue struct {
	sync.Mutex
	device *Device
	kind   hal.QueueType
}

func (q *Queue) Type() hal.QueueType { return q.kind }

func (q *Queue) checkLocked() error {
	if q.TryLock() {
		q.Unlock()
		return fmt.Errorf("%s queue used without holding its lock: %w", q.kind, ErrValidation)
	}
	return nil
}

// Submit executes the command buffers in order before returning.
func (q *Queue) Submit(info hal.SubmitInfo) error {
	if err := q.checkLocked(); err != nil {
		return err
	}
	for _, w := range info.Wait {
		sem, err := asSemaphore(w)
		if err != nil {
			return err
		}
		if err := sem.consume(); err != nil {
			return err
		}
	}
	for _, c := range info.CommandBuffers {
		cb, ok := c.(*CommandBuffer)
		if !ok {
			return fmt.Errorf("foreign command buffer %T: %w", c, ErrValidation)
		}
		ops := cb.Ops()
		if err := cb.execute(q.kind); err != nil {
			return err
		}
		q.device.logSubmission(q.kind, ops)
	}
	for _, s := range info.Signal {
		sem, err := asSemaphore(s)
		if err != nil {
			return err
		}
		if err := sem.signal(); err != nil {
			return err
		}
	}
	q.device.mu.Lock()
	q.device.stats.Submits++
	q.device.mu.Unlock()

	if info.Fence != nil {
		f, ok := info.Fence.(*Fence)
		if !ok {
			return fmt.Errorf("foreign fence %T: %w", info.Fence, ErrValidation)
		}
		return f.signal()
	}
	return nil
}

func (q *Queue) WaitIdle() error {
	return nil
}

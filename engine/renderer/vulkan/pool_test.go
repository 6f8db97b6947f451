package vulkan

import (
	"sync"
	"testing"
)

func TestQueueLockSharedPerFamily(t *testing.T) {
	pool := NewVulkanLockPool()
	if pool.QueueLock(0) != pool.QueueLock(0) {
		t.Fatal("same family returned different mutexes")
	}
	if pool.QueueLock(0) == pool.QueueLock(1) {
		t.Fatal("different families share a mutex")
	}
}

func TestSafeAllQueuesCallExcludesQueueUsers(t *testing.T) {
	pool := NewVulkanLockPool()
	q0, q1 := pool.QueueLock(0), pool.QueueLock(2)

	var mu sync.Mutex
	inside := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			q0.Lock()
			mu.Lock()
			inside++
			mu.Unlock()
			q0.Unlock()
		}()
		go func() {
			defer wg.Done()
			_ = pool.SafeAllQueuesCall(func() error {
				if q1.TryLock() {
					t.Error("queue family 2 was not locked")
					q1.Unlock()
				}
				return nil
			})
		}()
	}
	wg.Wait()
	if inside != 50 {
		t.Errorf("inside = %d", inside)
	}
}

func TestSafeCall(t *testing.T) {
	pool := NewVulkanLockPool()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SafeCall(DescriptorManagement, func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

package vulkan

import (
	"sort"
	"sync"
)

type LockGroup string

const (
	DescriptorManagement LockGroup = "descriptor_management"
	MemoryManagement     LockGroup = "memory_management"
	PipelineManagement   LockGroup = "pipeline_management"
)

// VulkanLockPool hands out the mutexes guarding externally synchronized
// Vulkan objects. Queues are locked per family: every hal queue created for
// the same family shares one VkQueue and therefore one mutex.
type VulkanLockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex // Protects access to the maps

	queueMutexes map[uint32]*sync.Mutex // Queue family index as key
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) lock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if _, exists := vs.locks[group]; !exists {
		vs.locks[group] = &sync.Mutex{}
	}
	return vs.locks[group]
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.lock(group)
	l.Lock()
	defer l.Unlock()

	return fn()
}

// QueueLock returns the mutex of a queue family, creating it on first use.
func (vs *VulkanLockPool) QueueLock(familyIndex uint32) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if _, exists := vs.queueMutexes[familyIndex]; !exists {
		vs.queueMutexes[familyIndex] = &sync.Mutex{}
	}
	return vs.queueMutexes[familyIndex]
}

// SafeAllQueuesCall runs fn with every queue locked, as vkDeviceWaitIdle
// requires. Locks are taken in family order.
func (vs *VulkanLockPool) SafeAllQueuesCall(fn func() error) error {
	vs.mu.Lock()
	families := make([]uint32, 0, len(vs.queueMutexes))
	for f := range vs.queueMutexes {
		families = append(families, f)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	mutexes := make([]*sync.Mutex, len(families))
	for i, f := range families {
		mutexes[i] = vs.queueMutexes[f]
	}
	vs.mu.Unlock()

	for _, m := range mutexes {
		m.Lock()
	}
	defer func() {
		for i := len(mutexes) - 1; i >= 0; i-- {
			mutexes[i].Unlock()
		}
	}()
	return fn()
}

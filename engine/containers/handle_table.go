package containers

import (
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/lumen/engine/core"
)

// Handle is an opaque (index, generation) reference into a HandleTable[T].
// Every copy of a handle issued by Allocate shares one reference counter.
// The zero Handle never resolves.
type Handle[T any] struct {
	index      uint32
	generation uint32
	refs       *atomic.Int32
}

func (h Handle[T]) Index() uint32      { return h.index }
func (h Handle[T]) Generation() uint32 { return h.generation }

// IsZero reports whether h is the zero handle.
func (h Handle[T]) IsZero() bool { return h.index == 0 }

// Equal compares index and generation; the reference counter is not part of
// a handle's identity.
func (h Handle[T]) Equal(other Handle[T]) bool {
	return h.index == other.index && h.generation == other.generation
}

// Clone registers one more owner of the handle and returns it.
func (h Handle[T]) Clone() Handle[T] {
	if h.refs != nil {
		h.refs.Add(1)
	}
	return h
}

// Release drops one owner and returns the number of owners left.
func (h Handle[T]) Release() int32 {
	if h.refs == nil {
		return 0
	}
	n := h.refs.Add(-1)
	if n < 0 {
		h.refs.Store(0)
		return 0
	}
	return n
}

// RefCount returns the number of owners currently sharing the handle.
func (h Handle[T]) RefCount() int32 {
	if h.refs == nil {
		return 0
	}
	return h.refs.Load()
}

func (h Handle[T]) String() string {
	return fmt.Sprintf("handle(%d:%d)", h.index, h.generation)
}

type slot[T any] struct {
	value      T
	next       uint32
	generation uint32
	live       bool
}

// HandleTable is a generational free-list arena. Slot 0 is a sentinel whose
// next field is the head of the free list. The table does no locking; callers
// serialize access.
type HandleTable[T any] struct {
	slots []slot[T]
	live  int
}

// NewHandleTable preallocates capacity slots. A negative capacity is treated
// as zero.
func NewHandleTable[T any](capacity int) *HandleTable[T] {
	capacity = max(capacity, 0)
	t := &HandleTable[T]{
		slots: make([]slot[T], 1, capacity+1),
	}
	return t
}

// Reserve makes room for n more slots without reallocating.
func (t *HandleTable[T]) Reserve(n int) {
	if free := cap(t.slots) - len(t.slots); free < n {
		grown := make([]slot[T], len(t.slots), len(t.slots)+n)
		copy(grown, t.slots)
		t.slots = grown
	}
}

// Allocate returns a handle to a zero-valued entity. It never fails: when the
// free list is empty the backing store grows by one slot.
func (t *HandleTable[T]) Allocate() Handle[T] {
	var index uint32
	if head := t.slots[0].next; head != 0 {
		t.slots[0].next = t.slots[head].next
		index = head
	} else {
		t.slots = append(t.slots, slot[T]{})
		index = uint32(len(t.slots) - 1)
	}

	s := &t.slots[index]
	var zero T
	s.value = zero
	s.next = 0
	s.live = true
	t.live++

	refs := &atomic.Int32{}
	refs.Store(1)
	return Handle[T]{index: index, generation: s.generation, refs: refs}
}

// Insert allocates a slot and stores v in it.
func (t *HandleTable[T]) Insert(v T) Handle[T] {
	h := t.Allocate()
	t.slots[h.index].value = v
	return h
}

func (t *HandleTable[T]) resolve(h Handle[T]) (*slot[T], error) {
	if h.index == 0 || int(h.index) >= len(t.slots) {
		return nil, fmt.Errorf("%s out of range: %w", h, core.ErrInvalidHandle)
	}
	s := &t.slots[h.index]
	if !s.live || s.generation != h.generation {
		return nil, fmt.Errorf("%s is stale (slot generation %d): %w", h, s.generation, core.ErrInvalidHandle)
	}
	return s, nil
}

// Get resolves a handle to its entity. The pointer stays valid until the next
// Allocate, Insert or Reserve call.
func (t *HandleTable[T]) Get(h Handle[T]) (*T, error) {
	s, err := t.resolve(h)
	if err != nil {
		return nil, err
	}
	return &s.value, nil
}

// Valid reports whether h currently resolves.
func (t *HandleTable[T]) Valid(h Handle[T]) bool {
	_, err := t.resolve(h)
	return err == nil
}

// Free returns the entity and pushes its slot on the free list. The slot's
// generation is bumped so every outstanding copy of h becomes stale.
func (t *HandleTable[T]) Free(h Handle[T]) (T, error) {
	s, err := t.resolve(h)
	if err != nil {
		var zero T
		return zero, err
	}
	value := s.value

	var zero T
	s.value = zero
	s.live = false
	s.generation++
	s.next = t.slots[0].next
	t.slots[0].next = h.index
	t.live--

	return value, nil
}

// SlotCount returns the size of the backing store, sentinel included. Slot
// indices of live handles are always below it.
func (t *HandleTable[T]) SlotCount() int {
	return len(t.slots)
}

// Len returns the number of live entities.
func (t *HandleTable[T]) Len() int {
	return t.live
}

// Each calls fn for every live entity in slot order until fn returns false.
func (t *HandleTable[T]) Each(fn func(h Handle[T], v *T) bool) {
	for i := 1; i < len(t.slots); i++ {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		if !fn(Handle[T]{index: uint32(i), generation: s.generation}, &s.value) {
			return
		}
	}
}

package containers

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/lumen/engine/core"
)

type entity struct {
	name string
}

func TestHandleTableAllocateResolve(t *testing.T) {
	table := NewHandleTable[entity](4)

	h := table.Insert(entity{name: "a"})
	if h.IsZero() {
		t.Fatal("Insert returned the zero handle")
	}
	got, err := table.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.name != "a" {
		t.Errorf("name = %q, want %q", got.name, "a")
	}
	if table.Len() != 1 {
		t.Errorf("Len = %d, want 1", table.Len())
	}
}

func TestHandleTableZeroHandle(t *testing.T) {
	table := NewHandleTable[entity](0)
	table.Allocate()

	var zero Handle[entity]
	if _, err := table.Get(zero); !errors.Is(err, core.ErrInvalidHandle) {
		t.Errorf("Get(zero) err = %v, want ErrInvalidHandle", err)
	}
	if _, err := table.Free(zero); !errors.Is(err, core.ErrInvalidHandle) {
		t.Errorf("Free(zero) err = %v, want ErrInvalidHandle", err)
	}
}

func TestHandleTableUniquenessOverTime(t *testing.T) {
	table := NewHandleTable[entity](0)

	// Interleave allocations and frees so slots get reused several times.
	var freed []Handle[entity]
	live := map[uint32]Handle[entity]{}
	for round := 0; round < 8; round++ {
		for i := 0; i < 3; i++ {
			h := table.Allocate()
			if _, err := table.Get(h); err != nil {
				t.Fatalf("round %d: fresh handle %s does not resolve: %v", round, h, err)
			}
			for _, old := range freed {
				if old.Equal(h) {
					t.Fatalf("round %d: handle %s reissued", round, h)
				}
			}
			if prev, ok := live[h.Index()]; ok {
				t.Fatalf("slot %d issued twice while live (%s, %s)", h.Index(), prev, h)
			}
			live[h.Index()] = h
		}
		for idx, h := range live {
			if (idx+uint32(round))%2 == 0 {
				if _, err := table.Free(h); err != nil {
					t.Fatalf("Free(%s): %v", h, err)
				}
				freed = append(freed, h)
				delete(live, idx)
			}
		}
		for _, old := range freed {
			if _, err := table.Get(old); !errors.Is(err, core.ErrInvalidHandle) {
				t.Fatalf("round %d: freed handle %s resolves (err = %v)", round, old, err)
			}
		}
	}
	if table.Len() != len(live) {
		t.Errorf("Len = %d, want %d", table.Len(), len(live))
	}
}

func TestHandleTableGenerationBump(t *testing.T) {
	table := NewHandleTable[entity](1)

	first := table.Allocate()
	if _, err := table.Free(first); err != nil {
		t.Fatalf("Free: %v", err)
	}
	second := table.Allocate()
	if second.Index() != first.Index() {
		t.Fatalf("slot not reused: first %s, second %s", first, second)
	}
	if second.Generation() <= first.Generation() {
		t.Errorf("generation did not increase: first %s, second %s", first, second)
	}
	if _, err := table.Get(first); !errors.Is(err, core.ErrInvalidHandle) {
		t.Errorf("stale handle resolved, err = %v", err)
	}
}

func TestHandleTableDoubleFree(t *testing.T) {
	table := NewHandleTable[entity](1)
	h := table.Insert(entity{name: "once"})

	v, err := table.Free(h)
	if err != nil {
		t.Fatalf("first Free: %v", err)
	}
	if v.name != "once" {
		t.Errorf("freed value = %q, want %q", v.name, "once")
	}
	if _, err := table.Free(h); !errors.Is(err, core.ErrInvalidHandle) {
		t.Errorf("second Free err = %v, want ErrInvalidHandle", err)
	}
	if table.Len() != 0 {
		t.Errorf("Len = %d, want 0", table.Len())
	}
}

func TestHandleTableFreeListOrder(t *testing.T) {
	table := NewHandleTable[entity](3)
	a := table.Allocate()
	b := table.Allocate()
	c := table.Allocate()

	for _, h := range []Handle[entity]{a, c, b} {
		if _, err := table.Free(h); err != nil {
			t.Fatalf("Free(%s): %v", h, err)
		}
	}
	// The free list is LIFO.
	want := []uint32{b.Index(), c.Index(), a.Index(), 4}
	for i, idx := range want {
		h := table.Allocate()
		if h.Index() != idx {
			t.Errorf("allocation %d index = %d, want %d", i, h.Index(), idx)
		}
	}
}

func TestHandleRefCount(t *testing.T) {
	table := NewHandleTable[entity](1)
	h := table.Allocate()

	tests := []struct {
		name string
		op   func() int32
		want int32
	}{
		{"issued", h.RefCount, 1},
		{"clone", func() int32 { return h.Clone().RefCount() }, 2},
		{"clone again", func() int32 { return h.Clone().RefCount() }, 3},
		{"release", h.Release, 2},
		{"release", h.Release, 1},
		{"last release", h.Release, 0},
		{"release past zero", h.Release, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op(); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHandleTableEach(t *testing.T) {
	table := NewHandleTable[entity](4)
	a := table.Insert(entity{name: "a"})
	table.Insert(entity{name: "b"})
	table.Insert(entity{name: "c"})
	if _, err := table.Free(a); err != nil {
		t.Fatal(err)
	}

	var names []string
	table.Each(func(h Handle[entity], v *entity) bool {
		if !table.Valid(h) {
			t.Errorf("Each yielded invalid handle %s", h)
		}
		names = append(names, v.name)
		return true
	})
	if len(names) != 2 || names[0] != "b" || names[1] != "c" {
		t.Errorf("Each visited %v, want [b c]", names)
	}

	visited := 0
	table.Each(func(Handle[entity], *entity) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Errorf("Each did not stop early: visited %d", visited)
	}
}

func TestHandleTableReserve(t *testing.T) {
	table := NewHandleTable[entity](0)
	table.Reserve(16)
	if cap(table.slots) < 17 {
		t.Errorf("cap = %d, want >= 17", cap(table.slots))
	}
	h := table.Insert(entity{name: "x"})
	if v, err := table.Get(h); err != nil || v.name != "x" {
		t.Errorf("Get after Reserve = %v, %v", v, err)
	}
}

func TestNewHandleTableCapacity(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		wantCap  int
	}{
		{"negative", -5, 1},
		{"zero", 0, 1},
		{"positive", 8, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewHandleTable[entity](tt.capacity)
			if got := cap(table.slots); got != tt.wantCap {
				t.Errorf("cap = %d, want %d", got, tt.wantCap)
			}
			h := table.Insert(entity{name: "x"})
			if _, err := table.Get(h); err != nil {
				t.Errorf("Get: %v", err)
			}
		})
	}
}

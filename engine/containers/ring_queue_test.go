package containers

import (
	"errors"
	"testing"
)

func TestRingQueue(t *testing.T) {
	q := NewRingQueue[int](2)

	if _, err := q.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("Dequeue on empty err = %v", err)
	}
	if err := q.Enqueue(1); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(2); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(3); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue on full err = %v", err)
	}
	if v, _ := q.Peek(); v != 1 {
		t.Errorf("Peek = %d, want 1", v)
	}
	if v, _ := q.Dequeue(); v != 1 {
		t.Errorf("Dequeue = %d, want 1", v)
	}
	if err := q.Enqueue(3); err != nil {
		t.Fatal(err)
	}

	// Wrapped queue keeps order through Grow.
	q.Grow()
	if err := q.Enqueue(4); err != nil {
		t.Fatal(err)
	}
	for _, want := range []int{2, 3, 4} {
		got, err := q.Dequeue()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Dequeue = %d, want %d", got, want)
		}
	}
	if !q.IsEmpty() || q.Len() != 0 {
		t.Errorf("queue not empty: len %d", q.Len())
	}
}

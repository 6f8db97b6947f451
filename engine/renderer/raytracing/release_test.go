package raytracing

import "testing"

type countingResource struct {
	destroyed *int
}

func (c countingResource) Destroy() { *c.destroyed++ }

func TestReleaseQueueOrder(t *testing.T) {
	q := NewReleaseQueue(1)
	var destroyed int
	r := countingResource{&destroyed}

	q.Retire(1, r)
	q.Retire(2, r, r)
	q.Retire(2, r)
	q.Retire(4, r)
	q.Retire(5)

	tests := []struct {
		completed uint64
		want      int
		pending   int
	}{
		{0, 0, 4},
		{1, 1, 3},
		{3, 3, 1},
		{3, 0, 1},
		{10, 1, 0},
	}
	for _, tt := range tests {
		if got := q.Collect(tt.completed); got != tt.want {
			t.Errorf("Collect(%d) = %d, want %d", tt.completed, got, tt.want)
		}
		if q.Len() != tt.pending {
			t.Errorf("after Collect(%d) pending = %d, want %d", tt.completed, q.Len(), tt.pending)
		}
	}
	if destroyed != 5 {
		t.Errorf("destroyed = %d, want 5", destroyed)
	}
}

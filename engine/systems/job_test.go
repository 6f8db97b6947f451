package systems

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestNewJobSystem(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		size    int
		want    error
	}{
		{"valid", 2, 4, nil},
		{"unbuffered", 1, 0, nil},
		{"no workers", 0, 4, ErrNoWorkers},
		{"negative size", 2, -1, ErrNegativeChannelSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			js, err := NewJobSystem(tt.workers, tt.size)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if js != nil {
				js.Shutdown()
			}
		})
	}
}

func TestSubmitResolvesFutures(t *testing.T) {
	js, err := NewJobSystem(3, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer js.Shutdown()

	boom := errors.New("boom")
	var completed, failed atomic.Int32
	var futures []<-chan error
	for i := 0; i < 10; i++ {
		i := i
		futures = append(futures, js.Submit(JobTask{
			Name: "job",
			Run: func() error {
				if i == 7 {
					return boom
				}
				return nil
			},
			OnComplete: func() { completed.Add(1) },
			OnFailure:  func(error) { failed.Add(1) },
		}))
	}
	if err := Wait(futures...); !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want %v", err, boom)
	}
	if completed.Load() != 9 || failed.Load() != 1 {
		t.Errorf("completed=%d failed=%d, want 9 and 1", completed.Load(), failed.Load())
	}
}

func TestPanicIsReported(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer js.Shutdown()

	err = <-js.SubmitFunc(func() error { panic("bad") })
	if err == nil {
		t.Fatal("panicking job reported success")
	}
	// The worker survives the panic.
	if err := <-js.SubmitFunc(func() error { return nil }); err != nil {
		t.Errorf("job after panic: %v", err)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	var ran atomic.Bool
	pending := js.SubmitFunc(func() error { ran.Store(true); return nil })
	if err := js.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := <-pending; err != nil || !ran.Load() {
		t.Errorf("queued job: err=%v ran=%v", err, ran.Load())
	}
	if err := <-js.SubmitFunc(func() error { return nil }); !errors.Is(err, ErrJobSystemClosed) {
		t.Errorf("Submit after Shutdown = %v, want %v", err, ErrJobSystemClosed)
	}
	if err := js.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

package systems

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
)

// JobTask is one unit of work. OnComplete and OnFailure run on the worker
// after Run returns.
type JobTask struct {
	Name       string
	Run        func() error
	OnComplete func()
	OnFailure  func(err error)
}

type job struct {
	task JobTask
	done chan error
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan job
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = errors.New("job system is shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan job, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for j := range js.jobQueue {
				j.done <- js.run(j.task)
				close(j.done)
			}
		}()
	}
}

func (js *JobSystem) run(task JobTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %q panicked: %v", task.Name, r)
		}
		if err != nil {
			core.LogError(err.Error())
			if task.OnFailure != nil {
				task.OnFailure(err)
			}
			return
		}
		if task.OnComplete != nil {
			task.OnComplete()
		}
	}()
	return task.Run()
}

// Workers returns the size of the pool.
func (js *JobSystem) Workers() int { return js.numWorkers }

// Submit queues the task and returns a channel that receives its result
// exactly once. It blocks while the queue is full.
func (js *JobSystem) Submit(task JobTask) <-chan error {
	done := make(chan error, 1)
	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.closed {
		done <- fmt.Errorf("job %q: %w", task.Name, ErrJobSystemClosed)
		close(done)
		return done
	}
	js.jobQueue <- job{task: task, done: done}
	return done
}

// SubmitFunc queues fn as an unnamed task.
func (js *JobSystem) SubmitFunc(fn func() error) <-chan error {
	return js.Submit(JobTask{Run: fn})
}

// Wait collects the results of futures returned by Submit, joining every
// error.
func Wait(futures ...<-chan error) error {
	var errs []error
	for _, f := range futures {
		if err := <-f; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops accepting jobs and waits for the queued ones to finish.
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mu.Unlock()

	js.wg.Wait()
	return nil
}

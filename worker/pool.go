// Package worker runs inference jobs on a fixed set of goroutines, each pinned
// to its own OS thread for the native runtimes underneath.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"SpoofDetServer/logger"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("worker pool closed")

type JobPackage struct {
	run  func()
	done chan struct{}
	err  error
}

type Pool struct {
	mu     sync.RWMutex
	closed bool
	jobs   chan *JobPackage
	wg     sync.WaitGroup

	restartDelay time.Duration
}

// NewPool starts workers goroutines; values below 1 start one.
func NewPool(workers int) *Pool {
	return newPool(workers, time.Second)
}

func newPool(workers int, restartDelay time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		jobs:         make(chan *JobPackage, workers),
		restartDelay: restartDelay,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.runWorker(i)
	}
	return p
}

// runWorker restarts the worker loop after a panic until the queue closes.
func (p *Pool) runWorker(workerID int) {
	defer p.wg.Done()
	logger.Log().Debug("worker created", zap.Int("worker", workerID))
	for p.work(workerID) {
		logger.Log().Warn("worker restarting", zap.Int("worker", workerID), zap.Duration("delay", p.restartDelay))
		time.Sleep(p.restartDelay)
	}
}

func (p *Pool) work(workerID int) (panicked bool) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var current *JobPackage
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("worker panic", zap.Int("worker", workerID), zap.Any("panic", r))
			if current != nil {
				current.err = fmt.Errorf("worker %d panic: %v", workerID, r)
				close(current.done)
			}
			panicked = true
		}
	}()
	for job := range p.jobs {
		current = job
		job.run()
		close(job.done)
		current = nil
	}
	return false
}

// Submit queues run and waits for it to finish. If ctx ends first Submit
// returns ctx.Err() and the job, once started, still runs to completion.
func (p *Pool) Submit(ctx context.Context, run func()) error {
	job := &JobPackage{run: run, done: make(chan struct{})}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-job.done:
		return job.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued ones to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// Do runs fn on p and returns its result. When the pool fails to run fn the
// zero value is returned with the pool's error.
func Do[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var out T
	var err error
	if perr := p.Submit(ctx, func() { out, err = fn() }); perr != nil {
		var zero T
		return zero, perr
	}
	return out, err
}

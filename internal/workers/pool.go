// Package workers provides the bounded worker pool used for the read-only
// parallel phases: per-symbol signal analysis in live scans and signal
// generation in backtests. Tasks must not mutate shared state; all portfolio
// mutation happens after the pool joins, on a single goroutine.
package workers

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrPoolStopped is returned when submitting to a stopped pool.
var ErrPoolStopped = errors.New("worker pool stopped")

// Task is a unit of read-only work.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of goroutines with panic isolation, so
// one bad instrument cannot abort a whole scan cycle.
type Pool struct {
	logger *zap.Logger
	tasks  chan taskEnvelope
	wg     sync.WaitGroup

	// mu serializes submits against Stop closing the task channel.
	mu       sync.RWMutex
	running  atomic.Bool
	panics   atomic.Int64
	executed atomic.Int64

	cancel context.CancelFunc
}

type taskEnvelope struct {
	task Task
	done *sync.WaitGroup
}

// NewPool creates a pool with the given worker count (defaults to NumCPU).
func NewPool(logger *zap.Logger, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger: logger.Named("workers"),
		tasks:  make(chan taskEnvelope, numWorkers*4),
		cancel: cancel,
	}
	p.running.Store(true)

	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	return p
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-p.tasks:
			if !ok {
				return
			}
			p.execute(ctx, id, env)
		}
	}
}

func (p *Pool) execute(ctx context.Context, id int, env taskEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("worker recovered from panic",
				zap.Int("worker_id", id),
				zap.Any("panic", r),
			)
		}
		p.executed.Add(1)
		if env.done != nil {
			env.done.Done()
		}
	}()
	env.task(ctx)
}

// Submit queues a task, blocking while the queue is full.
func (p *Pool) Submit(task Task) error {
	return p.submit(taskEnvelope{task: task})
}

func (p *Pool) submit(env taskEnvelope) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running.Load() {
		return ErrPoolStopped
	}
	p.tasks <- env
	return nil
}

// Batch tracks a group of submitted tasks so the caller can join before
// touching any shared state.
type Batch struct {
	pool *Pool
	wg   sync.WaitGroup
}

// NewBatch starts a batch on the pool.
func (p *Pool) NewBatch() *Batch {
	return &Batch{pool: p}
}

// Go submits one task to the batch.
func (b *Batch) Go(task Task) error {
	b.wg.Add(1)
	if err := b.pool.submit(taskEnvelope{task: task, done: &b.wg}); err != nil {
		b.wg.Done()
		return err
	}
	return nil
}

// Wait blocks until every task in the batch has finished.
func (b *Batch) Wait() { b.wg.Wait() }

// Stop drains the pool and stops the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running.Swap(false) {
		p.mu.Unlock()
		return
	}
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
	p.logger.Info("worker pool stopped",
		zap.Int64("tasks_executed", p.executed.Load()),
		zap.Int64("panics_recovered", p.panics.Load()),
	)
}

// PanicsRecovered returns the number of panics isolated so far.
func (p *Pool) PanicsRecovered() int64 { return p.panics.Load() }

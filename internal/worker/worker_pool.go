package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var ErrPoolStopped = errors.New("worker pool stopped")

type Task func()

// WorkerPool runs tasks on a fixed number of goroutines. A panicking task is
// recovered and logged; the worker keeps running.
type WorkerPool struct {
	tasks       chan Task
	wg          sync.WaitGroup
	busyWorkers int
	maxWorkers  int
	logger      zerolog.Logger
	mu          sync.RWMutex
	shutdown    chan struct{}
	stopped     chan struct{}
	stopOnce    sync.Once
	started     bool
}

func NewWorkerPool(maxWorkers int, logger zerolog.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &WorkerPool{
		tasks:      make(chan Task),
		maxWorkers: maxWorkers,
		logger:     logger,
		shutdown:   make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return nil
	}
	wp.started = true

	wp.logger.Info().Int("max_workers", wp.maxWorkers).Msg("Starting worker pool")

	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.logger.Info().Int("workers_started", wp.maxWorkers).Msg("Worker pool started")
	return nil
}

// Stop rejects new tasks and waits for the running ones to finish, or for
// ctx to expire. Tasks that should abort must watch their own context.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.stopOnce.Do(func() {
		wp.logger.Info().Msg("Stopping worker pool")
		close(wp.shutdown)
		go func() {
			wp.wg.Wait()
			close(wp.stopped)
		}()
	})

	select {
	case <-wp.stopped:
		wp.logger.Info().Msg("Worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool did not drain: %w", ctx.Err())
	}
}

// Submit blocks until a worker takes the task. With prefetch equal to the
// worker count the broker never hands out more deliveries than there are
// workers, so a blocked Submit is the backpressure.
func (wp *WorkerPool) Submit(ctx context.Context, task Task) error {
	select {
	case <-wp.shutdown:
		return ErrPoolStopped
	default:
	}

	select {
	case wp.tasks <- task:
		return nil
	case <-wp.shutdown:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug().Int("worker_id", id).Msg("Worker started")

	for {
		select {
		case <-wp.shutdown:
			wp.logger.Debug().Int("worker_id", id).Msg("Worker stopped")
			return
		case task := <-wp.tasks:
			wp.run(id, task)
		}
	}
}

func (wp *WorkerPool) run(id int, task Task) {
	wp.mu.Lock()
	wp.busyWorkers++
	wp.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Int("worker_id", id).
				Interface("panic", r).
				Msg("Worker recovered from panic")
		}

		wp.mu.Lock()
		wp.busyWorkers--
		wp.mu.Unlock()
	}()

	wp.logger.Debug().Int("worker_id", id).Msg("Worker processing task")
	task()
}

func (wp *WorkerPool) GetActiveWorkers() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.busyWorkers
}

func (wp *WorkerPool) GetStats() map[string]interface{} {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return map[string]interface{}{
		"active_workers": wp.busyWorkers,
		"max_workers":    wp.maxWorkers,
	}
}

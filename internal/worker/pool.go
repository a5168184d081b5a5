package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"taskcal-go/internal/logging"
	"taskcal-go/internal/metrics"
)

// Task represents a unit of work for the worker pool. Process is retried
// while it returns an error, up to the pool's retry limit.
type Task interface {
	Name() string
	Process(ctx context.Context) error
}

type funcTask struct {
	name string
	fn   func(ctx context.Context) error
}

func (t funcTask) Name() string                      { return t.name }
func (t funcTask) Process(ctx context.Context) error { return t.fn(ctx) }

// NewFunc wraps fn as a named Task.
func NewFunc(name string, fn func(ctx context.Context) error) Task {
	return funcTask{name: name, fn: fn}
}

// Config sizes the pool.
type Config struct {
	Workers      int
	QueueSize    int
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultConfig returns the pool configuration for n workers.
func DefaultConfig(n int) Config {
	return Config{
		Workers:      n,
		QueueSize:    10,
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}
}

// WorkerPool manages a pool of worker goroutines
// and a queue of tasks to process
type WorkerPool struct {
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	cfg          Config
	mu           sync.RWMutex
	stopped      bool
	tasks        chan Task
	deadLetter   []Task
	deadLetterMu sync.Mutex
	logger       *zap.Logger
}

// PoolStats holds monitoring information about the worker pool
type PoolStats struct {
	Workers     int `json:"workers"`
	QueueLength int `json:"queue_length"`
	DeadLetters int `json:"dead_letters"`
}

// NewWorkerPool creates a new WorkerPool.
func NewWorkerPool(cfg Config, logger *zap.Logger) *WorkerPool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		tasks:      make(chan Task, cfg.QueueSize),
		deadLetter: make([]Task, 0),
		logger:     logger,
	}
}

// Start launches the worker goroutines
func (p *WorkerPool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
}

// Stop stops accepting tasks, lets queued tasks finish and waits for the
// workers. Tasks still queued when ctx is done are abandoned.
func (p *WorkerPool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
}

// Submit adds a task to the queue, returns false if the queue is full or
// the pool is stopped.
func (p *WorkerPool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}

	select {
	case p.tasks <- task:
		metrics.JobsScheduled.WithLabelValues(task.Name()).Inc()
		return true
	default:
		return false
	}
}

// workerLoop is the main loop for each worker goroutine
func (p *WorkerPool) workerLoop() {
	defer p.wg.Done()
	for task := range p.tasks {
		if p.ctx.Err() != nil {
			continue
		}
		p.processWithRetry(task)
	}
}

// processWithRetry processes a task, retrying up to MaxRetries, then moves
// it to the dead letter list.
func (p *WorkerPool) processWithRetry(task Task) {
	name := task.Name()
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	var err error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		start := time.Now()
		err = task.Process(p.ctx)
		metrics.JobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.JobsCompleted.WithLabelValues(name).Inc()
			return
		}

		p.logger.Warn("task attempt failed",
			zap.String(logging.KeyJob, name),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == p.cfg.MaxRetries {
			break
		}
		metrics.JobRetries.WithLabelValues(name).Inc()

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(p.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}

	metrics.JobsFailed.WithLabelValues(name).Inc()
	p.logger.Error("task moved to dead letter queue", zap.String(logging.KeyJob, name), zap.Error(err))

	p.deadLetterMu.Lock()
	p.deadLetter = append(p.deadLetter, task)
	p.deadLetterMu.Unlock()
}

// DeadLetterCount returns the number of tasks in the dead letter queue
func (p *WorkerPool) DeadLetterCount() int {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	return len(p.deadLetter)
}

// Workers returns the number of worker goroutines
func (p *WorkerPool) Workers() int {
	return p.cfg.Workers
}

// Stats returns current statistics about the worker pool
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Workers:     p.cfg.Workers,
		QueueLength: len(p.tasks),
		DeadLetters: p.DeadLetterCount(),
	}
}

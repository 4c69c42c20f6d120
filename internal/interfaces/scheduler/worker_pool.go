package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultJobTimeout bounds a single job when the pool is not configured otherwise.
const DefaultJobTimeout = 120 * time.Second

var (
	ErrQueueFull  = errors.New("job queue full")
	ErrPoolClosed = errors.New("worker pool is shut down")
)

var (
	jobTracer          = otel.Tracer("networth/scheduler")
	jobMeter           = otel.Meter("networth/scheduler")
	jobDuration, _     = jobMeter.Float64Histogram("scheduler.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _        = jobMeter.Int64Counter("scheduler.job.total", metric.WithDescription("Total jobs executed by status"))
	jobQueueDropped, _ = jobMeter.Int64Counter("scheduler.job.queue_dropped", metric.WithDescription("Jobs dropped due to full queue"))
)

// WorkerPool runs jobs on a fixed number of goroutines fed by a bounded queue.
type WorkerPool struct {
	workerCount int
	jobDelay    time.Duration
	jobTimeout  time.Duration
	logger      *zap.Logger
	jobs        chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// WorkerPoolConfig configures a WorkerPool.
type WorkerPoolConfig struct {
	WorkerCount int
	// JobDelay is a pause after each job, per worker, for rate limiting
	JobDelay   time.Duration
	JobTimeout time.Duration
	QueueSize  int
}

// NewWorkerPool creates a new worker pool with the specified configuration.
func NewWorkerPool(cfg WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workerCount: cfg.WorkerCount,
		jobDelay:    cfg.JobDelay,
		jobTimeout:  cfg.JobTimeout,
		logger:      logger,
		jobs:        make(chan Job, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	wp.logger.Info("Starting worker pool", zap.Int("workers", wp.workerCount))

	for i := 1; i <= wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// worker processes jobs until the queue is closed or the pool is cancelled.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	logger := wp.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	for {
		select {
		case <-wp.ctx.Done():
			logger.Debug("Worker shutting down")
			return

		case job, ok := <-wp.jobs:
			if !ok {
				logger.Debug("Job channel closed")
				return
			}

			wp.processJob(logger, id, job)

			// Apply delay to avoid rate limiting (if configured)
			if wp.jobDelay > 0 {
				timer := time.NewTimer(wp.jobDelay)
				select {
				case <-timer.C:
				case <-wp.ctx.Done():
					timer.Stop()
					logger.Debug("Worker shutting down during delay")
					return
				}
			}
		}
	}
}

// processJob executes a single job with error handling, logging, and telemetry.
// A panicking job is recorded as a failure.
func (wp *WorkerPool) processJob(logger *zap.Logger, workerID int, job Job) {
	logger = logger.With(zap.String("job", job.Description()), zap.String("user_id", job.UserID()))
	logger.Debug("Processing job")

	ctx, cancel := context.WithTimeout(wp.ctx, wp.jobTimeout)
	defer cancel()

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.description", job.Description()),
			attribute.String("job.user_id", job.UserID()),
		),
	)
	defer span.End()

	start := time.Now()
	err := runJob(ctx, job)
	jobDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		logger.Error("Job failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}

	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	logger.Info("Job completed", zap.Duration("duration", time.Since(start)))
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v\n%s", rec, debug.Stack())
		}
	}()
	return job.Execute(ctx)
}

// Submit adds a job to the queue without blocking.
// It returns ErrQueueFull when the queue is full and ErrPoolClosed after
// shutdown.
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return ErrPoolClosed
	}

	select {
	case <-wp.ctx.Done():
		return ErrPoolClosed
	case wp.jobs <- job:
		return nil
	default:
		jobQueueDropped.Add(context.Background(), 1)
		wp.logger.Warn("Job queue full, dropping job", zap.String("user_id", job.UserID()))
		return fmt.Errorf("%w: dropping job for user %s", ErrQueueFull, job.UserID())
	}
}

// SubmitBatch adds multiple jobs to the queue and returns how many were accepted.
func (wp *WorkerPool) SubmitBatch(jobs []Job) int {
	submitted := 0
	for _, job := range jobs {
		if err := wp.Submit(job); err != nil {
			wp.logger.Warn("Failed to submit job", zap.String("user_id", job.UserID()), zap.Error(err))
			continue
		}
		submitted++
	}
	wp.logger.Info("Submitted jobs to worker pool", zap.Int("submitted", submitted), zap.Int("total", len(jobs)))
	return submitted
}

// close stops accepting jobs. It reports false if the pool was already closed.
func (wp *WorkerPool) close() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.closed {
		return false
	}
	wp.closed = true
	close(wp.jobs)
	return true
}

// Shutdown stops accepting jobs, drains the queue and waits for workers.
func (wp *WorkerPool) Shutdown() {
	wp.logger.Info("Worker pool: initiating graceful shutdown")

	wp.close()
	wp.wg.Wait()
	wp.cancel()

	wp.logger.Info("Worker pool: shutdown complete")
}

// ShutdownWithTimeout shuts down the worker pool with a timeout.
// If workers don't finish within the timeout, running jobs are cancelled and
// queued jobs are abandoned.
func (wp *WorkerPool) ShutdownWithTimeout(timeout time.Duration) {
	wp.logger.Info("Worker pool: initiating graceful shutdown", zap.Duration("timeout", timeout))

	wp.close()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		wp.logger.Info("Worker pool: all workers finished gracefully")
	case <-timer.C:
		wp.logger.Warn("Worker pool: timeout reached, forcing shutdown")
		wp.cancel()
		<-done
	}
	wp.cancel()

	wp.logger.Info("Worker pool: shutdown complete")
}

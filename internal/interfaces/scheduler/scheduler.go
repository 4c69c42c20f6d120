package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// providerTimeout bounds a job provider call.
const providerTimeout = 5 * time.Minute

// ScheduleTime represents a specific time of day when the scheduler should run.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	var rest string
	n, _ := fmt.Sscanf(s, "%d:%d%s", &hour, &minute, &rest)
	if n < 2 || rest != "" {
		return ScheduleTime{}, fmt.Errorf("invalid time format %q (expected HH:MM)", s)
	}

	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// Scheduler runs the job provider at fixed times of day and feeds the
// resulting jobs to a worker pool.
type Scheduler struct {
	workerPool    *WorkerPool
	scheduleTimes []ScheduleTime
	runOnStartup  bool
	jobProvider   JobProvider
	logger        *zap.Logger
	now           func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun string
	mu      sync.Mutex
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	JobTimeout    time.Duration
	QueueSize     int
	RunOnStartup  bool
	JobProvider   JobProvider
}

// NewScheduler creates a new scheduler with the given configuration.
func NewScheduler(config SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	scheduleTimes := make([]ScheduleTime, 0, len(config.ScheduleTimes))
	for _, timeStr := range config.ScheduleTimes {
		st, err := ParseScheduleTime(timeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schedule time %q: %w", timeStr, err)
		}
		scheduleTimes = append(scheduleTimes, st)
	}

	if len(scheduleTimes) == 0 {
		return nil, fmt.Errorf("at least one schedule time is required")
	}

	slices.SortFunc(scheduleTimes, func(a, b ScheduleTime) int {
		return cmp.Or(cmp.Compare(a.Hour, b.Hour), cmp.Compare(a.Minute, b.Minute))
	})
	scheduleTimes = slices.Compact(scheduleTimes)

	workerPool := NewWorkerPool(WorkerPoolConfig{
		WorkerCount: config.WorkerCount,
		JobDelay:    config.JobDelay,
		JobTimeout:  config.JobTimeout,
		QueueSize:   config.QueueSize,
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())

	logger.Info("Scheduler initialized",
		zap.Strings("times", config.ScheduleTimes),
		zap.Int("workers", config.WorkerCount),
		zap.Duration("job_delay", config.JobDelay))

	return &Scheduler{
		workerPool:    workerPool,
		scheduleTimes: scheduleTimes,
		runOnStartup:  config.RunOnStartup,
		jobProvider:   config.JobProvider,
		logger:        logger,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches the scheduler and worker pool.
func (s *Scheduler) Start() {
	s.workerPool.Start()

	if s.runOnStartup {
		s.logger.Info("Scheduler: running initial job batch on startup")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJobs()
		}()
	}

	s.wg.Add(1)
	go s.scheduleLoop()

	s.logger.Info("Scheduler started", zap.Time("next_run", s.GetNextScheduledTime()))
}

// scheduleLoop checks the schedule once a minute.
func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Scheduler loop: context cancelled, shutting down")
			return

		case now := <-ticker.C:
			if s.shouldRun(now) {
				s.logger.Info("Scheduler: triggered", zap.String("at", now.Format("15:04")))
				s.runJobs()
			}
		}
	}
}

// shouldRun checks if the current time matches any scheduled time. A given
// scheduled minute fires at most once.
func (s *Scheduler) shouldRun(now time.Time) bool {
	currentKey := now.Format("2006-01-02-15:04")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRun == currentKey {
		return false
	}

	for _, st := range s.scheduleTimes {
		if now.Hour() == st.Hour && now.Minute() == st.Minute {
			s.lastRun = currentKey
			return true
		}
	}

	return false
}

// runJobs executes the job provider and submits jobs to the worker pool.
func (s *Scheduler) runJobs() int {
	if s.jobProvider == nil {
		s.logger.Warn("Scheduler: no job provider configured")
		return 0
	}

	ctx, cancel := context.WithTimeout(s.ctx, providerTimeout)
	defer cancel()

	jobs, err := s.jobProvider(ctx)
	if err != nil {
		s.logger.Error("Scheduler: failed to fetch jobs", zap.Error(err))
		return 0
	}

	if len(jobs) == 0 {
		s.logger.Info("Scheduler: no jobs to process")
		return 0
	}

	return s.workerPool.SubmitBatch(jobs)
}

// Shutdown gracefully stops the scheduler and worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.logger.Info("Scheduler: initiating graceful shutdown")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Debug("Scheduler: loop stopped gracefully")
	case <-timer.C:
		s.logger.Warn("Scheduler: timeout waiting for scheduler loop to stop")
	}

	s.workerPool.ShutdownWithTimeout(timeout)

	s.logger.Info("Scheduler: shutdown complete")
}

// TriggerNow runs the job provider immediately and returns the number of
// jobs queued.
func (s *Scheduler) TriggerNow() int {
	s.logger.Info("Scheduler: manual trigger")
	s.wg.Add(1)
	defer s.wg.Done()
	return s.runJobs()
}

// GetNextScheduledTime returns the next scheduled run time.
func (s *Scheduler) GetNextScheduledTime() time.Time {
	return nextRun(s.now(), s.scheduleTimes)
}

// GetScheduleTimes returns the configured schedule times in order.
func (s *Scheduler) GetScheduleTimes() []ScheduleTime {
	return slices.Clone(s.scheduleTimes)
}

// nextRun returns the first scheduled time strictly after now. times must
// be sorted.
func nextRun(now time.Time, times []ScheduleTime) time.Time {
	if len(times) == 0 {
		return time.Time{}
	}

	for _, st := range times {
		scheduled := time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, now.Location())
		if scheduled.After(now) {
			return scheduled
		}
	}

	st := times[0]
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), st.Hour, st.Minute, 0, 0, now.Location())
}

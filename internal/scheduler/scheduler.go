package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskcal-go/internal/logging"
	"taskcal-go/internal/metrics"
	"taskcal-go/internal/storage"
	"taskcal-go/internal/worker"
)

// JobStore persists job state across restarts.
type JobStore interface {
	SaveJobRun(ctx context.Context, run *storage.JobRun) error
	ListJobRuns(ctx context.Context) ([]*storage.JobRun, error)
}

// Dispatcher accepts tasks for asynchronous execution.
type Dispatcher interface {
	Submit(task worker.Task) bool
}

// JobFunc is the body of a periodic job.
type JobFunc func(ctx context.Context) error

// Job is a periodic job registered with the scheduler.
type Job struct {
	Name      string
	Schedule  string
	NextRun   time.Time
	LastRun   time.Time
	Runs      int64
	LastError string

	cron *CronSchedule
	run  JobFunc
}

// JobInfo is a read-only snapshot of a job.
type JobInfo struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"next_run"`
	LastRun   time.Time `json:"last_run,omitempty"`
	Runs      int64     `json:"runs"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler fires periodic jobs on their cron schedule and hands them to
// the worker pool.
type Scheduler struct {
	store      JobStore
	pool       Dispatcher
	persisted  map[string]*storage.JobRun
	jobs       map[string]*Job
	jobMu      sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	cronWakeup chan struct{}
	now        func() time.Time
	logger     *zap.Logger
}

// NewScheduler creates a new Scheduler and loads job state from the store.
// store may be nil, in which case nothing is persisted.
func NewScheduler(ctx context.Context, store JobStore, pool Dispatcher, logger *zap.Logger) (*Scheduler, error) {
	cctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		store:      store,
		pool:       pool,
		persisted:  make(map[string]*storage.JobRun),
		jobs:       make(map[string]*Job),
		ctx:        cctx,
		cancel:     cancel,
		cronWakeup: make(chan struct{}, 1),
		now:        time.Now,
		logger:     logger,
	}
	if err := s.loadJobRuns(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// loadJobRuns loads persisted job state into memory
func (s *Scheduler) loadJobRuns() error {
	if s.store == nil {
		return nil
	}
	runs, err := s.store.ListJobRuns(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to load job runs: %w", err)
	}
	for _, run := range runs {
		s.persisted[run.Name] = run
	}
	return nil
}

// Register adds a job or replaces the schedule and body of an existing job
// with the same name. A job whose persisted next run has already passed is
// due immediately.
func (s *Scheduler) Register(name, schedule string, fn JobFunc) (*JobInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("job name cannot be empty")
	}
	if fn == nil {
		return nil, fmt.Errorf("job %s has no body", name)
	}
	cron, err := ParseCron(schedule)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", name, err)
	}

	s.jobMu.Lock()
	job, ok := s.jobs[name]
	if !ok {
		job = &Job{Name: name}
		if run, found := s.persisted[name]; found {
			job.LastRun = run.LastRun
			job.Runs = run.Runs
			job.LastError = run.LastError
			job.Schedule = run.Schedule
			job.NextRun = run.NextRun
		}
		s.jobs[name] = job
	}
	if job.Schedule != schedule || job.NextRun.IsZero() {
		job.Schedule = schedule
		job.NextRun = cron.Next(s.now())
	}
	job.cron = cron
	job.run = fn
	info := job.info()
	s.jobMu.Unlock()

	s.persist(info)
	s.signalCronWakeup()
	s.logger.Info("job registered",
		zap.String(logging.KeyJob, name),
		zap.String("schedule", schedule),
		zap.Time("next_run", info.NextRun))
	return &info, nil
}

func (j *Job) info() JobInfo {
	return JobInfo{
		Name:      j.Name,
		Schedule:  j.Schedule,
		NextRun:   j.NextRun,
		LastRun:   j.LastRun,
		Runs:      j.Runs,
		LastError: j.LastError,
	}
}

// Jobs returns a snapshot of every registered job ordered by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for _, job := range s.jobs {
		infos = append(infos, job.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// persist writes job state to the store
func (s *Scheduler) persist(info JobInfo) {
	if s.store == nil {
		return
	}
	err := s.store.SaveJobRun(s.ctx, &storage.JobRun{
		Name:      info.Name,
		Schedule:  info.Schedule,
		Runs:      info.Runs,
		LastError: info.LastError,
		LastRun:   info.LastRun,
		NextRun:   info.NextRun,
	})
	if err != nil && s.ctx.Err() == nil {
		s.logger.Error("failed to persist job state", zap.String(logging.KeyJob, info.Name), zap.Error(err))
	}
}

// signalCronWakeup notifies the scheduling loop to re-evaluate jobs
func (s *Scheduler) signalCronWakeup() {
	select {
	case s.cronWakeup <- struct{}{}:
	default:
	}
}

// Start begins the scheduling loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.schedulingLoop()
}

// schedulingLoop waits for the next due job and dispatches it
func (s *Scheduler) schedulingLoop() {
	defer s.wg.Done()
	for {
		next := s.findNextJobTime()
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.dispatchDue(s.now())
		case <-s.cronWakeup:
			timer.Stop()
			s.dispatchDue(s.now())
		}
	}
}

// findNextJobTime finds the soonest NextRun among registered jobs
func (s *Scheduler) findNextJobTime() time.Time {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	next := s.now().Add(24 * time.Hour)
	for _, job := range s.jobs {
		if job.NextRun.Before(next) {
			next = job.NextRun
		}
	}
	return next
}

// dispatchDue submits every job due at now to the pool and advances its
// next run. A run rejected by a full pool is skipped, not queued.
func (s *Scheduler) dispatchDue(now time.Time) {
	s.jobMu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if !job.NextRun.After(now) {
			job.NextRun = job.cron.Next(now)
			due = append(due, job)
		}
	}
	s.jobMu.Unlock()

	for _, job := range due {
		task := s.newTask(job)
		if !s.pool.Submit(task) {
			metrics.JobsFailed.WithLabelValues(job.Name).Inc()
			s.logger.Warn("worker pool full, skipping job run", zap.String(logging.KeyJob, job.Name))
		}
		s.jobMu.Lock()
		info := job.info()
		s.jobMu.Unlock()
		s.persist(info)
	}
}

// jobTask adapts a job run to the worker pool.
type jobTask struct {
	s     *Scheduler
	job   *Job
	runID string
}

func (s *Scheduler) newTask(job *Job) *jobTask {
	return &jobTask{s: s, job: job, runID: uuid.NewString()}
}

func (t *jobTask) Name() string { return t.job.Name }

// Process runs the job body and records the outcome of the attempt.
func (t *jobTask) Process(ctx context.Context) error {
	s := t.s
	s.jobMu.Lock()
	run := t.job.run
	s.jobMu.Unlock()

	logger := s.logger.With(zap.String(logging.KeyJob, t.job.Name), zap.String("run_id", t.runID))
	logger.Debug("job started")
	start := s.now()
	err := run(ctx)

	s.jobMu.Lock()
	t.job.LastRun = start
	t.job.Runs++
	t.job.LastError = ""
	if err != nil {
		t.job.LastError = err.Error()
	}
	info := t.job.info()
	s.jobMu.Unlock()
	s.persist(info)

	if err != nil {
		logger.Warn("job run failed", zap.Error(err))
		return err
	}
	logger.Debug("job finished", zap.Duration("elapsed", s.now().Sub(start)))
	return nil
}

// Stop gracefully shuts down the scheduler
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

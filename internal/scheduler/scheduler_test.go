package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskcal-go/internal/storage"
	"taskcal-go/internal/worker"
)

var testNow = time.Date(2024, 1, 1, 10, 7, 0, 0, time.UTC)

type memJobStore struct {
	mu   sync.Mutex
	runs map[string]storage.JobRun
}

func newMemJobStore(runs ...storage.JobRun) *memJobStore {
	s := &memJobStore{runs: make(map[string]storage.JobRun)}
	for _, run := range runs {
		s.runs[run.Name] = run
	}
	return s
}

func (s *memJobStore) SaveJobRun(ctx context.Context, run *storage.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.Name] = *run
	return nil
}

func (s *memJobStore) ListJobRuns(ctx context.Context) ([]*storage.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.JobRun
	for _, run := range s.runs {
		run := run
		out = append(out, &run)
	}
	return out, nil
}

func (s *memJobStore) get(name string) storage.JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[name]
}

// inlineDispatcher runs tasks on the calling goroutine.
type inlineDispatcher struct {
	reject bool
	ran    []string
}

func (d *inlineDispatcher) Submit(task worker.Task) bool {
	if d.reject {
		return false
	}
	d.ran = append(d.ran, task.Name())
	_ = task.Process(context.Background())
	return true
}

func newTestScheduler(t *testing.T, store JobStore, pool Dispatcher) *Scheduler {
	t.Helper()
	s, err := NewScheduler(context.Background(), store, pool, zap.NewNop())
	require.NoError(t, err)
	s.now = func() time.Time { return testNow }
	t.Cleanup(s.Stop)
	return s
}

func noop(ctx context.Context) error { return nil }

func TestScheduler_Register(t *testing.T) {
	store := newMemJobStore()
	s := newTestScheduler(t, store, &inlineDispatcher{})

	info, err := s.Register(JobTokenRefresh, "*/15 * * * *", noop)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC), info.NextRun)
	assert.Equal(t, info.NextRun, store.get(JobTokenRefresh).NextRun)

	_, err = s.Register("", "* * * * *", noop)
	assert.Error(t, err)
	_, err = s.Register("bad", "not a cron", noop)
	assert.Error(t, err)
	_, err = s.Register("nil", "* * * * *", nil)
	assert.Error(t, err)
}

func TestScheduler_JobDeduplication(t *testing.T) {
	s := newTestScheduler(t, nil, &inlineDispatcher{})

	_, err := s.Register(JobCleanup, "0 3 * * *", noop)
	require.NoError(t, err)
	info, err := s.Register(JobCleanup, "30 * * * *", noop)
	require.NoError(t, err)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "30 * * * *", jobs[0].Schedule)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC), info.NextRun)
}

func TestScheduler_ResumesPersistedState(t *testing.T) {
	missed := testNow.Add(-time.Hour)
	store := newMemJobStore(
		storage.JobRun{Name: JobTokenRefresh, Schedule: "*/15 * * * *", Runs: 7, NextRun: missed},
		storage.JobRun{Name: JobCleanup, Schedule: "0 4 * * *", Runs: 2, NextRun: missed},
	)
	pool := &inlineDispatcher{}
	s := newTestScheduler(t, store, pool)

	refresh, err := s.Register(JobTokenRefresh, "*/15 * * * *", noop)
	require.NoError(t, err)
	assert.Equal(t, missed, refresh.NextRun)
	assert.Equal(t, int64(7), refresh.Runs)

	// A changed schedule discards the persisted next run.
	cleanup, err := s.Register(JobCleanup, "0 3 * * *", noop)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC), cleanup.NextRun)

	s.dispatchDue(testNow)
	assert.Equal(t, []string{JobTokenRefresh}, pool.ran)
	assert.Equal(t, int64(8), store.get(JobTokenRefresh).Runs)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC), store.get(JobTokenRefresh).NextRun)
}

func TestScheduler_DispatchDue(t *testing.T) {
	store := newMemJobStore()
	pool := &inlineDispatcher{}
	s := newTestScheduler(t, store, pool)

	var calls int
	_, err := s.Register("every_minute", "* * * * *", func(ctx context.Context) error {
		calls++
		if calls == 2 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	_, err = s.Register("hourly", "0 * * * *", noop)
	require.NoError(t, err)

	s.dispatchDue(testNow)
	assert.Empty(t, pool.ran, "nothing is due yet")

	s.dispatchDue(testNow.Add(time.Minute))
	assert.Equal(t, []string{"every_minute"}, pool.ran)

	s.dispatchDue(testNow.Add(2 * time.Minute))
	run := store.get("every_minute")
	assert.Equal(t, int64(2), run.Runs)
	assert.Equal(t, "boom", run.LastError)
	assert.Equal(t, testNow, run.LastRun)
	assert.Equal(t, testNow.Add(3*time.Minute), run.NextRun)

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "every_minute", jobs[0].Name)
	assert.Equal(t, "hourly", jobs[1].Name)
	assert.Zero(t, jobs[1].Runs)
}

func TestScheduler_SkipsRunWhenPoolFull(t *testing.T) {
	pool := &inlineDispatcher{reject: true}
	s := newTestScheduler(t, nil, pool)

	var ran bool
	_, err := s.Register("every_minute", "* * * * *", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)

	s.dispatchDue(testNow.Add(time.Minute))
	assert.False(t, ran)
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, testNow.Add(2*time.Minute), jobs[0].NextRun)
	assert.Zero(t, jobs[0].Runs)
}

func TestScheduler_DispatchesJobsToWorkerPool(t *testing.T) {
	store := newMemJobStore(storage.JobRun{
		Name:     "catch_up",
		Schedule: "0 0 1 1 *",
		NextRun:  time.Now().Add(-time.Minute),
	})

	cfg := worker.DefaultConfig(2)
	cfg.RetryBackoff = time.Millisecond
	pool := worker.NewWorkerPool(cfg, zap.NewNop())
	pool.Start()
	defer pool.Stop(context.Background())

	s, err := NewScheduler(context.Background(), store, pool, zap.NewNop())
	require.NoError(t, err)

	executed := make(chan struct{}, 1)
	_, err = s.Register("catch_up", "0 0 1 1 *", func(ctx context.Context) error {
		executed <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	select {
	case <-executed:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not executed by worker pool")
	}
}

func TestScheduler_LoadFailure(t *testing.T) {
	_, err := NewScheduler(context.Background(), failingStore{}, &inlineDispatcher{}, zap.NewNop())
	assert.Error(t, err)
}

type failingStore struct{}

func (failingStore) SaveJobRun(ctx context.Context, run *storage.JobRun) error {
	return errors.New("disk full")
}

func (failingStore) ListJobRuns(ctx context.Context) ([]*storage.JobRun, error) {
	return nil, errors.New("disk full")
}

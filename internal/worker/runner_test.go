package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auralane/worker/internal/jobs"
	"github.com/auralane/worker/internal/processor"
	"github.com/auralane/worker/internal/store"
)

type stubProcessor struct {
	typ string
	fn  func(ctx context.Context, job *jobs.Job) (map[string]any, error)
}

func (s *stubProcessor) Type() string { return s.typ }

func (s *stubProcessor) Process(ctx context.Context, job *jobs.Job) (map[string]any, error) {
	if s.fn == nil {
		return map[string]any{"ok": true}, nil
	}
	return s.fn(ctx, job)
}

func (s *stubProcessor) HealthCheck(ctx context.Context) error { return nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir()+"/worker.db", zap.NewNop(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRunner(s *store.Store, cfg Config, procs ...processor.Processor) *Runner {
	reg := processor.NewRegistry()
	for _, p := range procs {
		reg.Register(p)
	}
	return NewRunner(s, reg, cfg, zap.NewNop())
}

func TestRunProcessesBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestRunner(s, Config{}, &stubProcessor{typ: jobs.TypeEmail})

	id, err := s.Enqueue(ctx, jobs.TypeEmail, map[string]any{"to": "a@example.com"}, jobs.PriorityNormal, store.EnqueueOptions{})
	require.NoError(t, err)

	res, err := r.Run(ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 0, res.Failed)
	require.Len(t, res.Results, 1)
	assert.Equal(t, id, res.Results[0].JobID)
	assert.True(t, res.Results[0].Success)

	j, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, j.Status)
	assert.Equal(t, true, j.Result["ok"])
}

func TestRunFailureDoesNotAbortBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	proc := &stubProcessor{typ: jobs.TypeEmail, fn: func(_ context.Context, job *jobs.Job) (map[string]any, error) {
		if job.Payload["boom"] == true {
			return nil, errors.New("smtp unreachable")
		}
		return map[string]any{"ok": true}, nil
	}}
	r := newTestRunner(s, Config{}, proc)

	_, err := s.Enqueue(ctx, jobs.TypeEmail, map[string]any{"n": 1}, jobs.PriorityNormal, store.EnqueueOptions{})
	require.NoError(t, err)
	badID, err := s.Enqueue(ctx, jobs.TypeEmail, map[string]any{"boom": true}, jobs.PriorityNormal, store.EnqueueOptions{})
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, jobs.TypeEmail, map[string]any{"n": 3}, jobs.PriorityNormal, store.EnqueueOptions{})
	require.NoError(t, err)

	res, err := r.Run(ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)

	j, err := s.GetJob(ctx, badID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusRetry, j.Status)
	assert.Equal(t, "smtp unreachable", j.Error)
	assert.Equal(t, 1, j.RetryCount)
}

func TestRunUnregisteredTypeDeadLetters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestRunner(s, Config{}) // empty registry

	id, err := s.Enqueue(ctx, jobs.TypePayout, map[string]any{"seller_id": "sel_1"}, jobs.PriorityNormal, store.EnqueueOptions{})
	require.NoError(t, err)

	res, err := r.Run(ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)

	j, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDeadLetter, j.Status)

	dl, err := s.DeadLetterForJob(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, dl.Error, "no processor registered")
}

func TestRunPermanentErrorDeadLetters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	proc := &stubProcessor{typ: jobs.TypeEmail, fn: func(context.Context, *jobs.Job) (map[string]any, error) {
		return nil, jobs.Permanent(errors.New("recipient suppressed"))
	}}
	r := newTestRunner(s, Config{}, proc)

	id, err := s.Enqueue(ctx, jobs.TypeEmail, map[string]any{"to": "a@example.com"}, jobs.PriorityNormal, store.EnqueueOptions{})
	require.NoError(t, err)

	_, err = r.Run(ctx, "", 10)
	require.NoError(t, err)

	j, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDeadLetter, j.Status)
	assert.Equal(t, 1, j.RetryCount)
}

func TestRunContainsPanics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	proc := &stubProcessor{typ: jobs.TypeEmail, fn: func(context.Context, *jobs.Job) (map[string]any, error) {
		panic("nil template")
	}}
	r := newTestRunner(s, Config{}, proc)

	id, err := s.Enqueue(ctx, jobs.TypeEmail, map[string]any{"to": "a@example.com"}, jobs.PriorityNormal, store.EnqueueOptions{})
	require.NoError(t, err)

	res, err := r.Run(ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Results[0].Error, "panic")

	j, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusRetry, j.Status)
}

func TestRunBudgetLeavesRemainderToSweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestRunner(s, Config{Budget: time.Nanosecond}, &stubProcessor{typ: jobs.TypeEmail})

	for i := 0; i < 2; i++ {
		_, err := s.Enqueue(ctx, jobs.TypeEmail, map[string]any{"n": i}, jobs.PriorityNormal, store.EnqueueOptions{})
		require.NoError(t, err)
	}

	res, err := r.Run(ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)

	// claimed but unreached jobs sit in processing until the sweep
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ByStatus[string(jobs.StatusProcessing)])

	reset, err := s.CleanupStuckJobs(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, reset)
}

func TestRunClampsBatchToMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestRunner(s, Config{MaxBatch: 2}, &stubProcessor{typ: jobs.TypeEmail})

	for i := 0; i < 3; i++ {
		_, err := s.Enqueue(ctx, jobs.TypeEmail, map[string]any{"n": i}, jobs.PriorityNormal, store.EnqueueOptions{})
		require.NoError(t, err)
	}

	res, err := r.Run(ctx, "", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
}

func TestRunFiltersByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestRunner(s, Config{}, &stubProcessor{typ: jobs.TypeEmail}, &stubProcessor{typ: jobs.TypeAnalytics})

	_, err := s.Enqueue(ctx, jobs.TypeEmail, map[string]any{"to": "a@example.com"}, jobs.PriorityNormal, store.EnqueueOptions{})
	require.NoError(t, err)
	otherID, err := s.Enqueue(ctx, jobs.TypeAnalytics, map[string]any{"period": "daily"}, jobs.PriorityNormal, store.EnqueueOptions{})
	require.NoError(t, err)

	res, err := r.Run(ctx, jobs.TypeEmail, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, jobs.TypeEmail, res.Results[0].Type)

	j, err := s.GetJob(ctx, otherID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, j.Status)
}

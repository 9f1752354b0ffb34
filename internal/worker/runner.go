// Package worker bridges the job store to the processors. Each Run is
// one stateless invocation bounded by a wall-clock budget; all
// coordination state lives in the store, so any number of concurrent
// invocations is safe.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/auralane/worker/internal/jobs"
	"github.com/auralane/worker/internal/processor"
	"github.com/auralane/worker/internal/store"
)

// Config bounds one invocation.
type Config struct {
	MaxBatch      int
	Budget        time.Duration
	InterJobDelay time.Duration
}

// JobResult reports one job's outcome inside a RunResult.
type JobResult struct {
	JobID   string `json:"job_id"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RunResult summarizes one worker invocation.
type RunResult struct {
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Results   []JobResult `json:"results"`
	Duration  string      `json:"duration"`
}

type Runner struct {
	store    *store.Store
	registry *processor.Registry
	cfg      Config
	log      *zap.Logger
}

func NewRunner(st *store.Store, reg *processor.Registry, cfg Config, log *zap.Logger) *Runner {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 10
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 9 * time.Minute
	}
	return &Runner{store: st, registry: reg, cfg: cfg, log: log}
}

// Run claims one batch and processes it sequentially in claim order.
// A processor failure never aborts the batch; it is recorded and the
// loop moves on. Processing stops once the budget is nearly spent —
// jobs claimed but not reached then sit in processing until the
// stuck-job sweep recovers them.
func (r *Runner) Run(ctx context.Context, typ string, batch int) (*RunResult, error) {
	start := time.Now()
	if batch <= 0 || batch > r.cfg.MaxBatch {
		batch = r.cfg.MaxBatch
	}

	claimed, err := r.store.ClaimNext(ctx, typ, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	res := &RunResult{Results: []JobResult{}}
	for i, job := range claimed {
		if time.Since(start) >= r.cfg.Budget {
			r.log.Warn("budget exhausted, leaving remainder of batch to the sweep",
				zap.Int("remaining", len(claimed)-i))
			break
		}

		jr := r.processOne(ctx, job)
		res.Processed++
		if jr.Success {
			res.Succeeded++
		} else {
			res.Failed++
		}
		res.Results = append(res.Results, jr)

		if r.cfg.InterJobDelay > 0 && i < len(claimed)-1 {
			select {
			case <-ctx.Done():
				res.Duration = time.Since(start).String()
				return res, nil
			case <-time.After(r.cfg.InterJobDelay):
			}
		}
	}

	res.Duration = time.Since(start).String()
	r.log.Info("worker run finished",
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.String("duration", res.Duration))
	return res, nil
}

func (r *Runner) processOne(ctx context.Context, job *jobs.Job) (jr JobResult) {
	jr = JobResult{JobID: job.ID, Type: job.Type}

	proc, ok := r.registry.Get(job.Type)
	if !ok {
		jr.Error = fmt.Sprintf("no processor registered for type %s", job.Type)
		r.report(ctx, job.ID, nil, fmt.Errorf("%s", jr.Error), true)
		return jr
	}

	defer func() {
		if rec := recover(); rec != nil {
			jr.Success = false
			jr.Error = fmt.Sprintf("processor panic: %v", rec)
			r.log.Error("processor panicked",
				zap.String("job_id", job.ID),
				zap.String("type", job.Type),
				zap.Any("panic", rec))
			r.report(ctx, job.ID, nil, fmt.Errorf("%s", jr.Error), false)
		}
	}()

	r.log.Info("processing job",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.String("priority", string(job.Priority)))

	result, err := proc.Process(ctx, job)
	if err != nil {
		jr.Error = err.Error()
		r.report(ctx, job.ID, nil, err, jobs.IsPermanent(err))
		return jr
	}

	jr.Success = true
	r.report(ctx, job.ID, result, nil, false)
	return jr
}

func (r *Runner) report(ctx context.Context, jobID string, result map[string]any, procErr error, permanent bool) {
	if procErr == nil {
		if err := r.store.CompleteJob(ctx, jobID, result); err != nil {
			r.log.Error("failed to record completion", zap.String("job_id", jobID), zap.Error(err))
		}
		return
	}
	if err := r.store.FailJob(ctx, jobID, procErr.Error(), permanent); err != nil {
		r.log.Error("failed to record failure", zap.String("job_id", jobID), zap.Error(err))
	}
}

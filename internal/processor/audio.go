package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/auralane/worker/internal/external"
	"github.com/auralane/worker/internal/jobs"
	"github.com/auralane/worker/internal/store"
)

// AudioConfig bounds the render-wait state machine.
type AudioConfig struct {
	PollInterval time.Duration
	MaxPolls     int
}

// Audio delegates rendering to the engine: it creates the tracked
// render sub-job, triggers the engine's HTTP entrypoint, then polls the
// sub-job row until terminal, mapping the sub-job's 0-100 progress onto
// the 10-90 window of the parent job.
type Audio struct {
	store  *store.Store
	engine *external.RenderClient
	cfg    AudioConfig
	log    *zap.Logger
}

func NewAudio(st *store.Store, engine *external.RenderClient, cfg AudioConfig, log *zap.Logger) *Audio {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 60
	}
	return &Audio{store: st, engine: engine, cfg: cfg, log: log}
}

func (p *Audio) Type() string {
	return jobs.TypeAudioRender
}

func (p *Audio) Process(ctx context.Context, job *jobs.Job) (map[string]any, error) {
	if err := ValidatePayload(job.Payload, "script", "voice"); err != nil {
		return nil, err
	}

	render := &jobs.RenderJob{
		TrackID:   stringField(job.Payload, "track_id"),
		Script:    stringField(job.Payload, "script"),
		Voice:     stringField(job.Payload, "voice"),
		Music:     stringField(job.Payload, "background_music"),
		Solfeggio: intField(job.Payload, "solfeggio_frequency"),
		Binaural:  stringField(job.Payload, "binaural_beat"),
		Format:    stringField(job.Payload, "output_format"),
	}
	renderID, err := p.store.CreateRenderJob(ctx, render)
	if err != nil {
		return nil, fmt.Errorf("failed to create render sub-job: %w", err)
	}

	if err := p.store.UpdateProgress(ctx, job.ID, 10, "render queued"); err != nil {
		p.log.Warn("failed to report progress", zap.String("job_id", job.ID), zap.Error(err))
	}

	err = withCircuitBreaker(ctx, p.log, "render.trigger", func(ctx context.Context) error {
		return p.engine.Trigger(ctx, renderID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start render %s: %w", renderID, err)
	}

	final, err := p.waitForRender(ctx, job.ID, renderID)
	if err != nil {
		return nil, err
	}

	if final.TrackID != "" && final.ResultURL != "" {
		if err := p.store.SetTrackAudioURL(ctx, final.TrackID, final.ResultURL); err != nil {
			return nil, fmt.Errorf("failed to attach audio to track %s: %w", final.TrackID, err)
		}
	}

	if notify := stringField(job.Payload, "notify_email"); notify != "" {
		_, err := p.store.Enqueue(ctx, jobs.TypeEmail, map[string]any{
			"to":       notify,
			"subject":  "Your track is ready",
			"template": "render_complete",
			"templateData": map[string]any{
				"trackId":  final.TrackID,
				"audioUrl": final.ResultURL,
			},
		}, jobs.PriorityNormal, store.EnqueueOptions{})
		if err != nil {
			p.log.Warn("failed to enqueue render notification", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	return map[string]any{
		"render_job_id": renderID,
		"audio_url":     final.ResultURL,
	}, nil
}

// waitForRender polls the sub-job row on a fixed interval with a
// bounded poll count. The wait is cancellable through ctx so a shutting
// down worker does not block on an in-flight render.
func (p *Audio) waitForRender(ctx context.Context, jobID, renderID string) (*jobs.RenderJob, error) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for poll := 0; poll < p.cfg.MaxPolls; poll++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		render, err := p.store.GetRenderJob(ctx, renderID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll render %s: %w", renderID, err)
		}

		switch render.Status {
		case jobs.RenderCompleted:
			if err := p.store.UpdateProgress(ctx, jobID, 90, "render complete"); err != nil {
				p.log.Warn("failed to report progress", zap.String("job_id", jobID), zap.Error(err))
			}
			return render, nil
		case jobs.RenderFailed:
			return nil, fmt.Errorf("render %s failed: %s", renderID, render.Error)
		}

		// sub-job 0-100 maps onto the parent's 10-90 window
		parent := 10 + render.Progress*80/100
		if err := p.store.UpdateProgress(ctx, jobID, parent, render.Stage); err != nil {
			p.log.Warn("failed to report progress", zap.String("job_id", jobID), zap.Error(err))
		}
	}

	return nil, fmt.Errorf("render %s timed out after %d polls", renderID, p.cfg.MaxPolls)
}

func (p *Audio) HealthCheck(ctx context.Context) error {
	return p.engine.Health(ctx)
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/auralane/worker/internal/jobs"
)

// CreateRenderJob inserts the secondary record the audio engine works
// against and returns its id.
func (s *Store) CreateRenderJob(ctx context.Context, r *jobs.RenderJob) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	nowT := now()
	ts := fmtTime(nowT)
	r.Status = jobs.RenderPending
	r.CreatedAt = nowT
	r.UpdatedAt = nowT

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO render_jobs (id, track_id, script, voice, background_music, solfeggio_frequency,
			binaural_beat, output_format, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullable(r.TrackID), r.Script, r.Voice, nullable(r.Music), r.Solfeggio,
		nullable(r.Binaural), nullable(r.Format), string(r.Status), ts, ts)
	if err != nil {
		return "", fmt.Errorf("failed to create render job: %w", err)
	}
	return r.ID, nil
}

// GetRenderJob returns a render sub-job by id.
func (s *Store) GetRenderJob(ctx context.Context, id string) (*jobs.RenderJob, error) {
	var r jobs.RenderJob
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(track_id, ''), script, voice, COALESCE(background_music, ''),
			solfeggio_frequency, COALESCE(binaural_beat, ''), COALESCE(output_format, ''),
			status, progress, COALESCE(stage, ''), COALESCE(result_url, ''), COALESCE(error, ''),
			created_at, updated_at
		FROM render_jobs WHERE id = ?`, id).
		Scan(&r.ID, &r.TrackID, &r.Script, &r.Voice, &r.Music,
			&r.Solfeggio, &r.Binaural, &r.Format,
			&r.Status, &r.Progress, &r.Stage, &r.ResultURL, &r.Error,
			&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render job: %w", err)
	}
	if t := parseTime(createdAt); t != nil {
		r.CreatedAt = *t
	}
	if t := parseTime(updatedAt); t != nil {
		r.UpdatedAt = *t
	}
	return &r, nil
}

// UpdateRenderJob is the engine-side write path: status, progress,
// stage, and on terminal states the result URL or error.
func (s *Store) UpdateRenderJob(ctx context.Context, id string, status jobs.RenderStatus, progress int, stage, resultURL, errMsg string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE render_jobs SET status = ?, progress = ?, stage = ?, result_url = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		string(status), progress, stage, nullable(resultURL), nullable(errMsg), fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update render job: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return ErrNotFound
	}
	return nil
}

// SetTrackAudioURL writes the rendered asset URL onto the track record.
func (s *Store) SetTrackAudioURL(ctx context.Context, trackID, url string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracks SET audio_url = ?, status = 'published' WHERE id = ?`, url, trackID)
	if err != nil {
		return fmt.Errorf("failed to set track audio url: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return ErrNotFound
	}
	return nil
}

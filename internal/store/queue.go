package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auralane/worker/internal/jobs"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// EnqueueOptions carry the optional knobs of an enqueue call.
type EnqueueOptions struct {
	DependsOn    string
	RateLimitKey string
	MaxRetries   int
}

// Enqueue inserts a new pending job and returns its id. The payload is
// stored opaquely; processors validate it at dispatch time.
func (s *Store) Enqueue(ctx context.Context, typ string, payload map[string]any, priority jobs.Priority, opts EnqueueOptions) (string, error) {
	if !jobs.ValidType(typ) {
		return "", jobs.NewValidationError("unknown job type: %s", typ)
	}
	if priority == "" {
		priority = jobs.PriorityNormal
	}
	if !jobs.ValidPriority(priority) {
		return "", jobs.NewValidationError("unknown priority: %s", priority)
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.opts.DefaultMaxRetries
	}

	id := uuid.NewString()
	ts := fmtTime(now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, payload, priority, max_retries, depends_on, rate_limit_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, typ, string(jobs.StatusPending), marshalMap(payload), string(priority),
		maxRetries, nullable(opts.DependsOn), nullable(opts.RateLimitKey), ts, ts,
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.log.Info("job enqueued",
		zap.String("job_id", id),
		zap.String("type", typ),
		zap.String("priority", string(priority)))
	return id, nil
}

const jobColumns = `id, type, status, payload, priority, retry_count, max_retries,
	COALESCE(next_retry_at, ''), COALESCE(depends_on, ''), COALESCE(rate_limit_key, ''),
	progress, COALESCE(stage, ''), COALESCE(result, ''), COALESCE(error, ''),
	COALESCE(started_at, ''), COALESCE(completed_at, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var j jobs.Job
	var payload, nextRetry, result, startedAt, completedAt, createdAt, updatedAt string
	err := row.Scan(&j.ID, &j.Type, &j.Status, &payload, &j.Priority, &j.RetryCount, &j.MaxRetries,
		&nextRetry, &j.DependsOn, &j.RateLimitKey,
		&j.Progress, &j.Stage, &result, &j.Error,
		&startedAt, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	j.Payload = unmarshalMap(payload)
	j.Result = unmarshalMap(result)
	j.NextRetryAt = parseTime(nextRetry)
	j.StartedAt = parseTime(startedAt)
	j.CompletedAt = parseTime(completedAt)
	if t := parseTime(createdAt); t != nil {
		j.CreatedAt = *t
	}
	if t := parseTime(updatedAt); t != nil {
		j.UpdatedAt = *t
	}
	return &j, nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// ClaimNext atomically claims up to batch eligible jobs, optionally
// filtered by type, and flips them to processing. Eligible means:
// pending, or retry whose next_retry_at has elapsed; dependency (if
// any) completed; rate-limit key (if any) not saturated. Ordering is
// priority descending, then FIFO on created_at.
func (s *Store) ClaimNext(ctx context.Context, typ string, batch int) ([]*jobs.Job, error) {
	if batch <= 0 {
		batch = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	nowT := now()
	nowStr := fmtTime(nowT)
	windowStart := fmtTime(nowT.Add(-s.opts.RateLimitWindow))

	rows, err := tx.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs j
		WHERE (j.status = 'pending' OR (j.status = 'retry' AND j.next_retry_at <= ?))
		  AND (? = '' OR j.type = ?)
		  AND (j.depends_on IS NULL
		       OR EXISTS (SELECT 1 FROM jobs d WHERE d.id = j.depends_on AND d.status = 'completed'))
		  AND (j.rate_limit_key IS NULL
		       OR (SELECT COUNT(*) FROM jobs r
		           WHERE r.rate_limit_key = j.rate_limit_key
		             AND (r.status = 'processing'
		                  OR (r.status IN ('completed', 'dead_letter') AND r.updated_at >= ?))) < ?)
		ORDER BY CASE j.priority
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'normal' THEN 2
			ELSE 3 END,
			j.created_at ASC
		LIMIT ?`,
		nowStr, typ, typ, windowStart, s.opts.RateLimitMax, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to select eligible jobs: %w", err)
	}

	var claimed []*jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		claimed = append(claimed, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate eligible jobs: %w", err)
	}

	if len(claimed) == 0 {
		return nil, tx.Commit()
	}

	// The flip is conditional on the row still being claimable and its
	// rate-limit key still having headroom, so a row can never be handed
	// to two invocations and a batch cannot overshoot a key's limit
	// (earlier flips in the same batch already count as processing).
	out := claimed[:0]
	for _, j := range claimed {
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'processing', started_at = ?, updated_at = ?
			WHERE id = ? AND status IN ('pending', 'retry')
			  AND (rate_limit_key IS NULL
			       OR (SELECT COUNT(*) FROM jobs r
			           WHERE r.rate_limit_key = jobs.rate_limit_key
			             AND (r.status = 'processing'
			                  OR (r.status IN ('completed', 'dead_letter') AND r.updated_at >= ?))) < ?)`,
			nowStr, nowStr, j.ID, windowStart, s.opts.RateLimitMax)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job %s: %w", j.ID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			continue
		}
		j.Status = jobs.StatusProcessing
		j.StartedAt = &nowT
		j.UpdatedAt = nowT
		out = append(out, j)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return out, nil
}

// CompleteJob records a successful run.
func (s *Store) CompleteJob(ctx context.Context, id string, result map[string]any) error {
	ts := fmtTime(now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', result = ?, progress = 100, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		marshalMap(result), ts, ts, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("job %s is not processing", id)
	}
	return nil
}

// FailJob records a failed run. The job moves to retry with exponential
// backoff, or to dead_letter when the retry budget is exhausted or the
// failure is permanent; the dead-letter entry is written in the same
// transaction as the status change.
func (s *Store) FailJob(ctx context.Context, id, errMsg string, permanent bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin fail transaction: %w", err)
	}
	defer tx.Rollback()

	var typ, payload string
	var retryCount, maxRetries int
	err = tx.QueryRowContext(ctx,
		`SELECT type, payload, retry_count, max_retries FROM jobs WHERE id = ? AND status = 'processing'`,
		id).Scan(&typ, &payload, &retryCount, &maxRetries)
	if err == sql.ErrNoRows {
		return fmt.Errorf("job %s is not processing", id)
	}
	if err != nil {
		return fmt.Errorf("failed to load job for failure: %w", err)
	}

	nowT := now()
	ts := fmtTime(nowT)
	newCount := retryCount + 1

	if permanent || newCount >= maxRetries {
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'dead_letter', retry_count = ?, error = ?, updated_at = ?
			WHERE id = ?`,
			newCount, errMsg, ts, id); err != nil {
			return fmt.Errorf("failed to dead-letter job: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dead_letters (id, job_id, type, payload, error, retry_count, failed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), id, typ, payload, errMsg, newCount, ts); err != nil {
			return fmt.Errorf("failed to insert dead-letter entry: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit failure: %w", err)
		}
		s.log.Warn("job dead-lettered",
			zap.String("job_id", id),
			zap.String("type", typ),
			zap.Bool("permanent", permanent),
			zap.String("error", errMsg))
		return nil
	}

	nextRetry := fmtTime(nowT.Add(s.backoff.Delay(retryCount)))
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'retry', retry_count = ?, next_retry_at = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		newCount, nextRetry, errMsg, ts, id); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit failure: %w", err)
	}
	s.log.Info("job scheduled for retry",
		zap.String("job_id", id),
		zap.Int("retry_count", newCount),
		zap.String("next_retry_at", nextRetry))
	return nil
}

// UpdateProgress records incremental progress for callers polling job
// state. Percent is clamped to [0, 100].
func (s *Store) UpdateProgress(ctx context.Context, id string, percent int, stage string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress = ?, stage = ?, updated_at = ? WHERE id = ?`,
		percent, stage, fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// CleanupStuckJobs resets processing jobs whose started_at is older
// than olderThan back to retry. This is the liveness guard against
// invocations that died mid-job without reporting.
func (s *Store) CleanupStuckJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	nowT := now()
	cutoff := fmtTime(nowT.Add(-olderThan))
	ts := fmtTime(nowT)
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'retry', next_retry_at = ?, error = 'reset by stuck-job sweep', updated_at = ?
		WHERE status = 'processing' AND started_at < ?`,
		ts, ts, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Warn("stuck jobs reset", zap.Int64("count", n))
	}
	return n, nil
}

// DeadLetterForJob returns the dead-letter entry referencing jobID.
func (s *Store) DeadLetterForJob(ctx context.Context, jobID string) (*jobs.DeadLetter, error) {
	var d jobs.DeadLetter
	var payload, failedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, type, payload, error, retry_count, failed_at
		FROM dead_letters WHERE job_id = ?`, jobID).
		Scan(&d.ID, &d.JobID, &d.Type, &payload, &d.Error, &d.RetryCount, &failedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead-letter entry: %w", err)
	}
	d.Payload = unmarshalMap(payload)
	if t := parseTime(failedAt); t != nil {
		d.FailedAt = *t
	}
	return &d, nil
}

// ListDeadLetters returns the most recent dead-letter entries for
// manual inspection.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]*jobs.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, type, payload, error, retry_count, failed_at
		FROM dead_letters ORDER BY failed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*jobs.DeadLetter
	for rows.Next() {
		var d jobs.DeadLetter
		var payload, failedAt string
		if err := rows.Scan(&d.ID, &d.JobID, &d.Type, &payload, &d.Error, &d.RetryCount, &failedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead-letter entry: %w", err)
		}
		d.Payload = unmarshalMap(payload)
		if t := parseTime(failedAt); t != nil {
			d.FailedAt = *t
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// Stats summarizes queue health for the stats action.
type Stats struct {
	ByStatus    map[string]int       `json:"by_status"`
	ByType      map[string]TypeStats `json:"by_type"`
	DeadLetters int                  `json:"dead_letters"`
}

type TypeStats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	DeadLetter int `json:"dead_letter"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{
		ByStatus: make(map[string]int),
		ByType:   make(map[string]TypeStats),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		out.ByStatus[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT type,
			COUNT(*),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'retry' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'dead_letter' THEN 1 ELSE 0 END)
		FROM jobs GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by type: %w", err)
	}
	for rows.Next() {
		var typ string
		var ts TypeStats
		if err := rows.Scan(&typ, &ts.Total, &ts.Completed, &ts.Failed, &ts.DeadLetter); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		out.ByType[typ] = ts
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&out.DeadLetters); err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

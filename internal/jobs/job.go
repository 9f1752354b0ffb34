package jobs

import "time"

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting to be claimed.
	StatusPending Status = "pending"
	// StatusProcessing means a worker invocation has claimed the job.
	StatusProcessing Status = "processing"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusRetry means the job failed and waits for next_retry_at.
	StatusRetry Status = "retry"
	// StatusDeadLetter means the job exhausted its retry budget.
	StatusDeadLetter Status = "dead_letter"
)

// Priority orders jobs within the eligible set. Higher tiers are
// claimed first; within a tier claiming is FIFO on created_at.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank maps a priority to its sort position, lower claims first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

func ValidPriority(p Priority) bool {
	return p.Rank() < 4
}

// Known job types. Enqueue rejects anything else; the payload itself is
// only validated by the processor at dispatch time.
const (
	TypeEmail       = "email"
	TypeAudioRender = "audio_render"
	TypePayout      = "payout"
	TypeAnalytics   = "analytics"
)

func ValidType(t string) bool {
	switch t {
	case TypeEmail, TypeAudioRender, TypePayout, TypeAnalytics:
		return true
	}
	return false
}

// Job is the unit of asynchronous work tracked through the state
// machine. Rows are mutated exclusively through the store's lifecycle
// functions.
type Job struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Status       Status         `json:"status"`
	Payload      map[string]any `json:"payload"`
	Priority     Priority       `json:"priority"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	DependsOn    string         `json:"depends_on,omitempty"`
	RateLimitKey string         `json:"rate_limit_key,omitempty"`
	Progress     int            `json:"progress"`
	Stage        string         `json:"stage,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DeadLetter is the terminal record for a job that exhausted its retry
// budget. Created once by the fail path, never mutated.
type DeadLetter struct {
	ID         string         `json:"id"`
	JobID      string         `json:"job_id"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	Error      string         `json:"error"`
	RetryCount int            `json:"retry_count"`
	FailedAt   time.Time      `json:"failed_at"`
}

// RenderStatus tracks the audio engine's secondary record.
type RenderStatus string

const (
	RenderPending    RenderStatus = "pending"
	RenderProcessing RenderStatus = "processing"
	RenderCompleted  RenderStatus = "completed"
	RenderFailed     RenderStatus = "failed"
)

// RenderJob is the sub-job handed to the audio rendering engine. The
// engine shares the store and writes progress onto this row; the audio
// processor polls it until terminal.
type RenderJob struct {
	ID        string       `json:"id"`
	TrackID   string       `json:"track_id,omitempty"`
	Script    string       `json:"script"`
	Voice     string       `json:"voice"`
	Music     string       `json:"background_music,omitempty"`
	Solfeggio int          `json:"solfeggio_frequency,omitempty"`
	Binaural  string       `json:"binaural_beat,omitempty"`
	Format    string       `json:"output_format,omitempty"`
	Status    RenderStatus `json:"status"`
	Progress  int          `json:"progress"`
	Stage     string       `json:"stage,omitempty"`
	ResultURL string       `json:"result_url,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

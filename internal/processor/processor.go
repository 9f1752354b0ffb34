// Package processor holds the pluggable handlers behind the job queue:
// one Processor per job type, a registry populated at startup, and the
// helpers they share (payload validation, bounded in-call retry,
// progress reporting).
package processor

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/auralane/worker/internal/jobs"
)

// Processor is the contract every job handler implements. Process runs
// exactly one claimed job and returns a result recorded on the job row;
// any error is caught by the worker loop and recorded as the job's
// error string. HealthCheck is a lightweight reachability probe of the
// processor's downstream dependency.
type Processor interface {
	Type() string
	Process(ctx context.Context, job *jobs.Job) (map[string]any, error)
	HealthCheck(ctx context.Context) error
}

// Registry maps job types to processors. Populated once at startup,
// safe for concurrent reads afterwards.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]Processor)}
}

func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[p.Type()] = p
}

func (r *Registry) Get(typ string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[typ]
	return p, ok
}

func (r *Registry) All() []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Processor, 0, len(r.processors))
	for _, p := range r.processors {
		out = append(out, p)
	}
	return out
}

// ValidatePayload fails fast when any of the required fields is absent
// or empty.
func ValidatePayload(payload map[string]any, required ...string) error {
	var missing []string
	for _, field := range required {
		v, ok := payload[field]
		if !ok || v == nil {
			missing = append(missing, field)
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return jobs.NewValidationError("payload missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

const breakerAttempts = 3

var breakerBaseWait = time.Second

// withCircuitBreaker retries a single external call with exponential
// backoff inside one Process invocation, bounded by breakerAttempts.
// After the budget is spent the last error propagates and the job-level
// retry policy takes over. Permanent and validation errors short out.
func withCircuitBreaker(ctx context.Context, log *zap.Logger, op string, call func(ctx context.Context) error) error {
	var err error
	wait := breakerBaseWait
	for attempt := 1; attempt <= breakerAttempts; attempt++ {
		err = call(ctx)
		if err == nil {
			return nil
		}
		if jobs.IsPermanent(err) || jobs.IsValidation(err) {
			return err
		}
		if attempt == breakerAttempts {
			break
		}
		log.Warn("external call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func boolField(payload map[string]any, key string) bool {
	if v, ok := payload[key].(bool); ok {
		return v
	}
	return false
}

func intField(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func mapField(payload map[string]any, key string) map[string]any {
	if v, ok := payload[key].(map[string]any); ok {
		return v
	}
	return nil
}

package processor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/auralane/worker/internal/jobs"
	"github.com/auralane/worker/internal/store"
)

// Analytics computes bounded time-window metrics across users, content,
// sales and engagement, plus period-over-period growth rates against
// the equal-length preceding window, and upserts one aggregate row per
// period.
type Analytics struct {
	store *store.Store
	log   *zap.Logger
}

func NewAnalytics(st *store.Store, log *zap.Logger) *Analytics {
	return &Analytics{store: st, log: log}
}

func (p *Analytics) Type() string {
	return jobs.TypeAnalytics
}

func (p *Analytics) Process(ctx context.Context, job *jobs.Job) (map[string]any, error) {
	if err := ValidatePayload(job.Payload, "period"); err != nil {
		return nil, err
	}
	period := stringField(job.Payload, "period")

	asOf := time.Now().UTC()
	if raw := stringField(job.Payload, "as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, jobs.NewValidationError("invalid as_of: %v", err)
		}
		asOf = t.UTC()
	}

	start, end, err := windowFor(period, asOf)
	if err != nil {
		return nil, err
	}

	current, err := p.store.MetricsForWindow(ctx, start, end)
	if err != nil {
		return nil, err
	}
	length := end.Sub(start)
	previous, err := p.store.MetricsForWindow(ctx, start.Add(-length), start)
	if err != nil {
		return nil, err
	}

	metrics := map[string]any{
		"new_users":     current.NewUsers,
		"new_tracks":    current.NewTracks,
		"sales":         current.Sales,
		"revenue_cents": current.RevenueCents,
		"plays":         current.Plays,
		"growth": map[string]any{
			"users":   growthRate(float64(current.NewUsers), float64(previous.NewUsers)),
			"tracks":  growthRate(float64(current.NewTracks), float64(previous.NewTracks)),
			"sales":   growthRate(float64(current.Sales), float64(previous.Sales)),
			"revenue": growthRate(float64(current.RevenueCents), float64(previous.RevenueCents)),
			"plays":   growthRate(float64(current.Plays), float64(previous.Plays)),
		},
	}

	if err := p.store.UpsertSnapshot(ctx, period, start, end, metrics); err != nil {
		return nil, err
	}

	p.log.Info("analytics snapshot written",
		zap.String("period", period),
		zap.Time("start", start),
		zap.Time("end", end))

	return map[string]any{
		"period":       period,
		"period_start": start.Format(time.RFC3339),
		"period_end":   end.Format(time.RFC3339),
		"metrics":      metrics,
	}, nil
}

// windowFor maps a period type to its [start, end) bounds relative to
// asOf. Daily/weekly/monthly snap to calendar boundaries (UTC, weeks
// starting Monday); realtime is the trailing hour.
func windowFor(period string, asOf time.Time) (time.Time, time.Time, error) {
	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case "daily":
		return day, day.AddDate(0, 0, 1), nil
	case "weekly":
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7), nil
	case "monthly":
		start := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), nil
	case "realtime":
		return asOf.Add(-time.Hour), asOf, nil
	}
	return time.Time{}, time.Time{}, jobs.NewValidationError("unknown period: %s", period)
}

// growthRate is the period-over-period change in percent. An empty
// preceding window reports 100 when the current window has activity.
func growthRate(current, previous float64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return (current - previous) / previous * 100
}

// HealthCheck only needs the store to be reachable.
func (p *Analytics) HealthCheck(ctx context.Context) error {
	return p.store.Ping(ctx)
}

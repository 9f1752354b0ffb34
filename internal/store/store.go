// Package store implements the relational source of truth for the job
// queue and the marketplace tables the processors work against.
//
// Claiming is the sole mutual-exclusion point across concurrent worker
// invocations. SQLite has no SELECT ... FOR UPDATE SKIP LOCKED, but the
// same guarantee holds here: every claim runs in an immediate
// transaction (write lock taken up front via _txlock=immediate), and
// the status flip to processing is conditional on the row still being
// claimable, so two concurrent claims can never return the same job.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/auralane/worker/internal/backoff"
)

// Options tune queue behavior. Zero values fall back to defaults.
type Options struct {
	DefaultMaxRetries int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	RateLimitWindow   time.Duration
	RateLimitMax      int
}

func (o *Options) fill() {
	if o.DefaultMaxRetries <= 0 {
		o.DefaultMaxRetries = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 30 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Hour
	}
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = time.Minute
	}
	if o.RateLimitMax <= 0 {
		o.RateLimitMax = 5
	}
}

type Store struct {
	db      *sql.DB
	log     *zap.Logger
	backoff backoff.Strategy
	opts    Options
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	payload        TEXT NOT NULL DEFAULT '{}',
	priority       TEXT NOT NULL DEFAULT 'normal',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TEXT,
	depends_on     TEXT,
	rate_limit_key TEXT,
	progress       INTEGER NOT NULL DEFAULT 0,
	stage          TEXT,
	result         TEXT,
	error          TEXT,
	started_at     TEXT,
	completed_at   TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs (status, type, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_jobs_rate_key ON jobs (rate_limit_key) WHERE rate_limit_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS dead_letters (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	type        TEXT NOT NULL,
	payload     TEXT NOT NULL DEFAULT '{}',
	error       TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	failed_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dead_letters_job ON dead_letters (job_id);

CREATE TABLE IF NOT EXISTS render_jobs (
	id                  TEXT PRIMARY KEY,
	track_id            TEXT,
	script              TEXT NOT NULL,
	voice               TEXT NOT NULL,
	background_music    TEXT,
	solfeggio_frequency INTEGER NOT NULL DEFAULT 0,
	binaural_beat       TEXT,
	output_format       TEXT,
	status              TEXT NOT NULL DEFAULT 'pending',
	progress            INTEGER NOT NULL DEFAULT 0,
	stage               TEXT,
	result_url          TEXT,
	error               TEXT,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sellers (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	email          TEXT NOT NULL,
	payout_account TEXT,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tracks (
	id         TEXT PRIMARY KEY,
	seller_id  TEXT NOT NULL,
	title      TEXT NOT NULL,
	audio_url  TEXT,
	status     TEXT NOT NULL DEFAULT 'draft',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sales (
	id           TEXT PRIMARY KEY,
	seller_id    TEXT NOT NULL,
	track_id     TEXT,
	amount_cents INTEGER NOT NULL,
	status       TEXT NOT NULL DEFAULT 'completed',
	paid         INTEGER NOT NULL DEFAULT 0,
	transfer_id  TEXT,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sales_seller ON sales (seller_id, status, paid);

CREATE TABLE IF NOT EXISTS plays (
	id         TEXT PRIMARY KEY,
	track_id   TEXT NOT NULL,
	user_id    TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS payouts (
	id                   TEXT PRIMARY KEY,
	seller_id            TEXT NOT NULL,
	gross_cents          INTEGER NOT NULL,
	platform_fee_cents   INTEGER NOT NULL,
	processing_fee_cents INTEGER NOT NULL,
	net_cents            INTEGER NOT NULL,
	transfer_id          TEXT NOT NULL,
	period_start         TEXT NOT NULL,
	period_end           TEXT NOT NULL,
	created_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS payout_failures (
	id        TEXT PRIMARY KEY,
	seller_id TEXT NOT NULL,
	error     TEXT NOT NULL,
	failed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS analytics_snapshots (
	period_type  TEXT NOT NULL,
	period_start TEXT NOT NULL,
	period_end   TEXT NOT NULL,
	metrics      TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (period_type, period_start)
);
`

// Open opens (or creates) the sqlite database at path and bootstraps
// the schema.
func Open(path string, log *zap.Logger, opts Options) (*Store, error) {
	opts.fill()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer; funnel everything through one
	// connection so busy errors surface as waits instead.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{
		db:      db,
		log:     log,
		backoff: backoff.NewExponential(opts.BackoffBase, opts.BackoffMax),
		opts:    opts,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func now() time.Time {
	return time.Now().UTC()
}

// timeLayout is RFC3339 with fixed-width nanoseconds. Timestamps are
// compared as strings in SQL, so the format must sort chronologically;
// RFC3339Nano trims trailing zeros and does not.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func marshalMap(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMap(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

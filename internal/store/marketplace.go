package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Seller is a creator receiving payouts for marketplace sales.
type Seller struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	PayoutAccount string `json:"payout_account,omitempty"`
}

// Payout records one completed transfer to a seller.
type Payout struct {
	ID                 string    `json:"id"`
	SellerID           string    `json:"seller_id"`
	GrossCents         int64     `json:"gross_cents"`
	PlatformFeeCents   int64     `json:"platform_fee_cents"`
	ProcessingFeeCents int64     `json:"processing_fee_cents"`
	NetCents           int64     `json:"net_cents"`
	TransferID         string    `json:"transfer_id"`
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
}

// CreateSeller inserts a seller row. Application code owns seller
// lifecycle; the queue only reads them, this exists for seeding.
func (s *Store) CreateSeller(ctx context.Context, sl *Seller) error {
	if sl.ID == "" {
		sl.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sellers (id, name, email, payout_account, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sl.ID, sl.Name, sl.Email, nullable(sl.PayoutAccount), fmtTime(now()))
	if err != nil {
		return fmt.Errorf("failed to create seller: %w", err)
	}
	return nil
}

func (s *Store) GetSeller(ctx context.Context, id string) (*Seller, error) {
	var sl Seller
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, COALESCE(payout_account, '') FROM sellers WHERE id = ?`, id).
		Scan(&sl.ID, &sl.Name, &sl.Email, &sl.PayoutAccount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get seller: %w", err)
	}
	return &sl, nil
}

// InsertSale records a marketplace sale.
func (s *Store) InsertSale(ctx context.Context, sellerID, trackID string, amountCents int64, status string, at time.Time) (string, error) {
	id := uuid.NewString()
	if at.IsZero() {
		at = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (id, seller_id, track_id, amount_cents, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, sellerID, nullable(trackID), amountCents, status, fmtTime(at))
	if err != nil {
		return "", fmt.Errorf("failed to insert sale: %w", err)
	}
	return id, nil
}

// UnpaidSalesCents sums the completed, unpaid sales of a seller inside
// [start, end).
func (s *Store) UnpaidSalesCents(ctx context.Context, sellerID string, start, end time.Time) (int64, int, error) {
	var total sql.NullInt64
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0), COUNT(*)
		FROM sales
		WHERE seller_id = ? AND status = 'completed' AND paid = 0
		  AND created_at >= ? AND created_at < ?`,
		sellerID, fmtTime(start), fmtTime(end)).Scan(&total, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum unpaid sales: %w", err)
	}
	return total.Int64, count, nil
}

// RecordPayout inserts the payout row and marks the contributing sales
// paid with the transfer id, in one transaction.
func (s *Store) RecordPayout(ctx context.Context, p *Payout) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin payout transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO payouts (id, seller_id, gross_cents, platform_fee_cents, processing_fee_cents,
			net_cents, transfer_id, period_start, period_end, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SellerID, p.GrossCents, p.PlatformFeeCents, p.ProcessingFeeCents,
		p.NetCents, p.TransferID, fmtTime(p.PeriodStart), fmtTime(p.PeriodEnd), fmtTime(now())); err != nil {
		return fmt.Errorf("failed to insert payout: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sales SET paid = 1, transfer_id = ?
		WHERE seller_id = ? AND status = 'completed' AND paid = 0
		  AND created_at >= ? AND created_at < ?`,
		p.TransferID, p.SellerID, fmtTime(p.PeriodStart), fmtTime(p.PeriodEnd)); err != nil {
		return fmt.Errorf("failed to mark sales paid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payout: %w", err)
	}
	return nil
}

// InsertPayoutFailure appends a failure log entry for a seller.
func (s *Store) InsertPayoutFailure(ctx context.Context, sellerID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payout_failures (id, seller_id, error, failed_at)
		VALUES (?, ?, ?, ?)`,
		uuid.NewString(), sellerID, errMsg, fmtTime(now()))
	if err != nil {
		return fmt.Errorf("failed to insert payout failure: %w", err)
	}
	return nil
}

// CreateTrack inserts a track row for a seller.
func (s *Store) CreateTrack(ctx context.Context, sellerID, title string, at time.Time) (string, error) {
	id := uuid.NewString()
	if at.IsZero() {
		at = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracks (id, seller_id, title, created_at) VALUES (?, ?, ?, ?)`,
		id, sellerID, title, fmtTime(at))
	if err != nil {
		return "", fmt.Errorf("failed to create track: %w", err)
	}
	return id, nil
}

// Track is a marketplace content item.
type Track struct {
	ID       string `json:"id"`
	SellerID string `json:"seller_id"`
	Title    string `json:"title"`
	AudioURL string `json:"audio_url,omitempty"`
	Status   string `json:"status"`
}

func (s *Store) GetTrack(ctx context.Context, id string) (*Track, error) {
	var t Track
	err := s.db.QueryRowContext(ctx,
		`SELECT id, seller_id, title, COALESCE(audio_url, ''), status FROM tracks WHERE id = ?`, id).
		Scan(&t.ID, &t.SellerID, &t.Title, &t.AudioURL, &t.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	return &t, nil
}

// PayoutFailureCount counts the failure log entries for a seller.
func (s *Store) PayoutFailureCount(ctx context.Context, sellerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payout_failures WHERE seller_id = ?`, sellerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count payout failures: %w", err)
	}
	return n, nil
}

// CreateUser inserts a user row.
func (s *Store) CreateUser(ctx context.Context, email string, at time.Time) (string, error) {
	id := uuid.NewString()
	if at.IsZero() {
		at = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`,
		id, email, fmtTime(at))
	if err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

// InsertPlay records one engagement event on a track.
func (s *Store) InsertPlay(ctx context.Context, trackID, userID string, at time.Time) error {
	if at.IsZero() {
		at = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plays (id, track_id, user_id, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), trackID, nullable(userID), fmtTime(at))
	if err != nil {
		return fmt.Errorf("failed to insert play: %w", err)
	}
	return nil
}

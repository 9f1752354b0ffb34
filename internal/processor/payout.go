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

// PayoutConfig carries the fee and threshold policy.
type PayoutConfig struct {
	Currency           string
	MinimumCents       int64
	PlatformFeePct     int64
	ProcessingFeeCents int64
}

// Payout sums a seller's unpaid completed sales over a period, applies
// the fee policy and calls the payment provider's transfer endpoint.
type Payout struct {
	store   *store.Store
	payment *external.PaymentClient
	cfg     PayoutConfig
	log     *zap.Logger
}

func NewPayout(st *store.Store, payment *external.PaymentClient, cfg PayoutConfig, log *zap.Logger) *Payout {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Payout{store: st, payment: payment, cfg: cfg, log: log}
}

func (p *Payout) Type() string {
	return jobs.TypePayout
}

func (p *Payout) Process(ctx context.Context, job *jobs.Job) (map[string]any, error) {
	if err := ValidatePayload(job.Payload, "seller_id", "period_start", "period_end"); err != nil {
		return nil, err
	}

	sellerID := stringField(job.Payload, "seller_id")
	start, err := time.Parse(time.RFC3339, stringField(job.Payload, "period_start"))
	if err != nil {
		return nil, jobs.NewValidationError("invalid period_start: %v", err)
	}
	end, err := time.Parse(time.RFC3339, stringField(job.Payload, "period_end"))
	if err != nil {
		return nil, jobs.NewValidationError("invalid period_end: %v", err)
	}
	force := boolField(job.Payload, "force")

	seller, err := p.store.GetSeller(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load seller %s: %w", sellerID, err)
	}
	if seller.PayoutAccount == "" {
		// retrying cannot conjure a payout account
		return nil, jobs.Permanent(fmt.Errorf("seller %s has no payout account", sellerID))
	}

	gross, saleCount, err := p.store.UnpaidSalesCents(ctx, sellerID, start, end)
	if err != nil {
		return nil, err
	}

	if gross < p.cfg.MinimumCents && !force {
		p.log.Info("payout below minimum, skipping transfer",
			zap.String("seller_id", sellerID),
			zap.Int64("gross_cents", gross),
			zap.Int64("minimum_cents", p.cfg.MinimumCents))
		return map[string]any{
			"status":    "pending",
			"netAmount": 0,
			"gross":     gross,
			"sales":     saleCount,
		}, nil
	}

	platformFee := gross * p.cfg.PlatformFeePct / 100
	net := gross - platformFee - p.cfg.ProcessingFeeCents
	if net <= 0 {
		return nil, jobs.Permanent(fmt.Errorf("payout for seller %s nets %d cents after fees", sellerID, net))
	}

	transferID, err := p.payment.Transfer(ctx, external.TransferRequest{
		AmountCents: net,
		Currency:    p.cfg.Currency,
		Destination: seller.PayoutAccount,
		Description: fmt.Sprintf("Payout %s to %s", start.Format("2006-01-02"), end.Format("2006-01-02")),
		Metadata: map[string]string{
			"seller_id": sellerID,
			"job_id":    job.ID,
		},
	})
	if err != nil {
		if ferr := p.store.InsertPayoutFailure(ctx, sellerID, err.Error()); ferr != nil {
			p.log.Error("failed to record payout failure", zap.String("seller_id", sellerID), zap.Error(ferr))
		}
		return nil, fmt.Errorf("transfer for seller %s failed: %w", sellerID, err)
	}

	payout := &store.Payout{
		SellerID:           sellerID,
		GrossCents:         gross,
		PlatformFeeCents:   platformFee,
		ProcessingFeeCents: p.cfg.ProcessingFeeCents,
		NetCents:           net,
		TransferID:         transferID,
		PeriodStart:        start,
		PeriodEnd:          end,
	}
	if err := p.store.RecordPayout(ctx, payout); err != nil {
		return nil, err
	}

	_, err = p.store.Enqueue(ctx, jobs.TypeEmail, map[string]any{
		"to":       seller.Email,
		"subject":  "Your payout is on the way",
		"template": "payout_confirmation",
		"templateData": map[string]any{
			"netAmount":  net,
			"transferId": transferID,
		},
	}, jobs.PriorityNormal, store.EnqueueOptions{})
	if err != nil {
		p.log.Warn("failed to enqueue payout confirmation", zap.String("seller_id", sellerID), zap.Error(err))
	}

	p.log.Info("payout transferred",
		zap.String("seller_id", sellerID),
		zap.String("transfer_id", transferID),
		zap.Int64("net_cents", net))

	return map[string]any{
		"status":     "paid",
		"netAmount":  net,
		"gross":      gross,
		"sales":      saleCount,
		"transferId": transferID,
		"payoutId":   payout.ID,
	}, nil
}

func (p *Payout) HealthCheck(ctx context.Context) error {
	return p.payment.Health(ctx)
}

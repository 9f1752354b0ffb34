package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auralane/worker/internal/external"
	"github.com/auralane/worker/internal/jobs"
	"github.com/auralane/worker/internal/store"
)

var payoutTestCfg = PayoutConfig{
	Currency:           "usd",
	MinimumCents:       1000,
	PlatformFeePct:     15,
	ProcessingFeeCents: 55,
}

func payoutPeriod() (time.Time, time.Time, map[string]any) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return start, end, map[string]any{
		"seller_id":    "",
		"period_start": start.Format(time.RFC3339),
		"period_end":   end.Format(time.RFC3339),
	}
}

func TestPayoutBelowMinimumSkipsTransfer(t *testing.T) {
	transfers := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transfers++
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := newTestStore(t)
	ctx := context.Background()

	seller := &store.Seller{Name: "Ava", Email: "ava@example.com", PayoutAccount: "acct_1"}
	require.NoError(t, s.CreateSeller(ctx, seller))

	start, _, payload := payoutPeriod()
	payload["seller_id"] = seller.ID
	// $5.00 in sales against a $10.00 minimum
	_, err := s.InsertSale(ctx, seller.ID, "", 500, "completed", start.Add(24*time.Hour))
	require.NoError(t, err)

	p := NewPayout(s, external.NewPaymentClient(ts.URL, "sk_test"), payoutTestCfg, zap.NewNop())
	job := claimJob(t, s, jobs.TypePayout, payload)

	result, err := p.Process(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "pending", result["status"])
	assert.Equal(t, 0, result["netAmount"])
	assert.Equal(t, 0, transfers)
}

func TestPayoutTransfersAndMarksSalesPaid(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var req external.TransferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// 10000 gross - 1500 platform fee - 55 processing fee
		assert.Equal(t, int64(8445), req.AmountCents)
		assert.Equal(t, "acct_1", req.Destination)

		json.NewEncoder(w).Encode(map[string]string{"id": "tr_123"})
	}))
	defer ts.Close()

	s := newTestStore(t)
	ctx := context.Background()

	seller := &store.Seller{Name: "Ava", Email: "ava@example.com", PayoutAccount: "acct_1"}
	require.NoError(t, s.CreateSeller(ctx, seller))

	start, end, payload := payoutPeriod()
	payload["seller_id"] = seller.ID
	_, err := s.InsertSale(ctx, seller.ID, "", 6000, "completed", start.Add(time.Hour))
	require.NoError(t, err)
	_, err = s.InsertSale(ctx, seller.ID, "", 4000, "completed", start.Add(2*time.Hour))
	require.NoError(t, err)
	// refunded sales never count
	_, err = s.InsertSale(ctx, seller.ID, "", 9999, "refunded", start.Add(3*time.Hour))
	require.NoError(t, err)

	p := NewPayout(s, external.NewPaymentClient(ts.URL, "sk_test"), payoutTestCfg, zap.NewNop())
	job := claimJob(t, s, jobs.TypePayout, payload)

	result, err := p.Process(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "paid", result["status"])
	assert.Equal(t, int64(8445), result["netAmount"])
	assert.Equal(t, "tr_123", result["transferId"])

	remaining, _, err := s.UnpaidSalesCents(ctx, seller.ID, start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)

	// confirmation notification queued for the seller
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByType[jobs.TypeEmail].Total)
}

func TestPayoutNoAccountIsPermanent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seller := &store.Seller{Name: "Ben", Email: "ben@example.com"}
	require.NoError(t, s.CreateSeller(ctx, seller))

	_, _, payload := payoutPeriod()
	payload["seller_id"] = seller.ID

	p := NewPayout(s, external.NewPaymentClient("http://unused.invalid", "sk_test"), payoutTestCfg, zap.NewNop())
	job := claimJob(t, s, jobs.TypePayout, payload)

	_, err := p.Process(ctx, job)
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
}

func TestPayoutProviderFailureIsLoggedAndPropagates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient platform balance", http.StatusPaymentRequired)
	}))
	defer ts.Close()

	s := newTestStore(t)
	ctx := context.Background()

	seller := &store.Seller{Name: "Ava", Email: "ava@example.com", PayoutAccount: "acct_1"}
	require.NoError(t, s.CreateSeller(ctx, seller))

	start, _, payload := payoutPeriod()
	payload["seller_id"] = seller.ID
	_, err := s.InsertSale(ctx, seller.ID, "", 5000, "completed", start.Add(time.Hour))
	require.NoError(t, err)

	p := NewPayout(s, external.NewPaymentClient(ts.URL, "sk_test"), payoutTestCfg, zap.NewNop())
	job := claimJob(t, s, jobs.TypePayout, payload)

	_, err = p.Process(ctx, job)
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))
	assert.Contains(t, err.Error(), "insufficient platform balance")

	failures, err := s.PayoutFailureCount(ctx, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, failures)
}

func TestPayoutForceOverridesMinimum(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "tr_forced"})
	}))
	defer ts.Close()

	s := newTestStore(t)
	ctx := context.Background()

	seller := &store.Seller{Name: "Ava", Email: "ava@example.com", PayoutAccount: "acct_1"}
	require.NoError(t, s.CreateSeller(ctx, seller))

	start, _, payload := payoutPeriod()
	payload["seller_id"] = seller.ID
	payload["force"] = true
	_, err := s.InsertSale(ctx, seller.ID, "", 500, "completed", start.Add(time.Hour))
	require.NoError(t, err)

	p := NewPayout(s, external.NewPaymentClient(ts.URL, "sk_test"), payoutTestCfg, zap.NewNop())
	job := claimJob(t, s, jobs.TypePayout, payload)

	result, err := p.Process(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "paid", result["status"])
	// 500 - 75 platform - 55 processing
	assert.Equal(t, int64(370), result["netAmount"])
	assert.Equal(t, "tr_forced", result["transferId"])
}

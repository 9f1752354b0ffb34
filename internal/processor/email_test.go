package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auralane/worker/internal/external"
	"github.com/auralane/worker/internal/jobs"
	"github.com/auralane/worker/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"), zap.NewNop(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func claimJob(t *testing.T, s *store.Store, typ string, payload map[string]any) *jobs.Job {
	t.Helper()
	_, err := s.Enqueue(context.Background(), typ, payload, jobs.PriorityNormal, store.EnqueueOptions{})
	require.NoError(t, err)
	claimed, err := s.ClaimNext(context.Background(), typ, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func TestEmailProcessSends(t *testing.T) {
	var got external.Message
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := newTestStore(t)
	p := NewEmail(external.NewMailClient(ts.URL, "noreply@auralane.app"), zap.NewNop())

	job := claimJob(t, s, jobs.TypeEmail, map[string]any{
		"to":      "a@example.com",
		"subject": "x",
	})

	result, err := p.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, true, result["sent"])
	assert.Equal(t, "a@example.com", got.To)
	assert.Equal(t, "x", got.Subject)
	assert.Equal(t, "noreply@auralane.app", got.From)
}

func TestEmailProcessRejectsIncompletePayload(t *testing.T) {
	s := newTestStore(t)
	p := NewEmail(external.NewMailClient("http://unused.invalid", ""), zap.NewNop())

	job := claimJob(t, s, jobs.TypeEmail, map[string]any{"to": "a@example.com"})

	_, err := p.Process(context.Background(), job)
	assert.True(t, jobs.IsValidation(err))
}

func TestEmailHealthCheck(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	p := NewEmail(external.NewMailClient(ts.URL, ""), zap.NewNop())
	assert.NoError(t, p.HealthCheck(context.Background()))

	down := NewEmail(external.NewMailClient("http://127.0.0.1:1", ""), zap.NewNop())
	assert.Error(t, down.HealthCheck(context.Background()))
}

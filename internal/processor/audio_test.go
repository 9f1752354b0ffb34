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

var audioTestCfg = AudioConfig{PollInterval: 10 * time.Millisecond, MaxPolls: 20}

// fakeEngine answers the render trigger and writes the outcome onto the
// render row, standing in for the rendering engine sharing the store.
func fakeEngine(t *testing.T, s *store.Store, status jobs.RenderStatus, progress int, stage, resultURL, errMsg string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Action string `json:"action"`
			JobID  string `json:"jobId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "process", req.Action)
		require.NotEmpty(t, req.JobID)
		require.NoError(t, s.UpdateRenderJob(r.Context(), req.JobID, status, progress, stage, resultURL, errMsg))
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAudioProcessRendersTrack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seller := &store.Seller{Name: "Ava", Email: "ava@example.com"}
	require.NoError(t, s.CreateSeller(ctx, seller))
	trackID, err := s.CreateTrack(ctx, seller.ID, "Deep Focus", time.Time{})
	require.NoError(t, err)

	ts := fakeEngine(t, s, jobs.RenderCompleted, 100, "done", "https://cdn.example.com/a.mp3", "")
	defer ts.Close()

	p := NewAudio(s, external.NewRenderClient(ts.URL), audioTestCfg, zap.NewNop())
	job := claimJob(t, s, jobs.TypeAudioRender, map[string]any{
		"script":              "breathe in, breathe out",
		"voice":               "nova",
		"track_id":            trackID,
		"solfeggio_frequency": 432,
		"notify_email":        "ava@example.com",
	})

	result, err := p.Process(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.mp3", result["audio_url"])
	assert.NotEmpty(t, result["render_job_id"])

	track, err := s.GetTrack(ctx, trackID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.mp3", track.AudioURL)
	assert.Equal(t, "published", track.Status)

	j, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, j.Progress)

	// follow-up notification queued
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByType[jobs.TypeEmail].Total)
}

func TestAudioProcessMapsProgressWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts := fakeEngine(t, s, jobs.RenderProcessing, 50, "mixing", "", "")
	defer ts.Close()

	cfg := AudioConfig{PollInterval: 10 * time.Millisecond, MaxPolls: 3}
	p := NewAudio(s, external.NewRenderClient(ts.URL), cfg, zap.NewNop())
	job := claimJob(t, s, jobs.TypeAudioRender, map[string]any{
		"script": "hello",
		"voice":  "nova",
	})

	_, err := p.Process(ctx, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	// sub-job 50/100 lands at 10 + 50*80/100 = 50 on the parent
	j, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, j.Progress)
	assert.Equal(t, "mixing", j.Stage)
}

func TestAudioProcessPropagatesRenderFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts := fakeEngine(t, s, jobs.RenderFailed, 30, "synthesis", "", "voice unavailable")
	defer ts.Close()

	p := NewAudio(s, external.NewRenderClient(ts.URL), audioTestCfg, zap.NewNop())
	job := claimJob(t, s, jobs.TypeAudioRender, map[string]any{
		"script": "hello",
		"voice":  "nova",
	})

	_, err := p.Process(ctx, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voice unavailable")
}

func TestAudioProcessRejectsIncompletePayload(t *testing.T) {
	s := newTestStore(t)

	p := NewAudio(s, external.NewRenderClient("http://unused.invalid"), audioTestCfg, zap.NewNop())
	job := claimJob(t, s, jobs.TypeAudioRender, map[string]any{"script": "hello"})

	_, err := p.Process(context.Background(), job)
	assert.True(t, jobs.IsValidation(err))
}

func TestAudioProcessCancellableWhileWaiting(t *testing.T) {
	s := newTestStore(t)

	ts := fakeEngine(t, s, jobs.RenderProcessing, 10, "queued", "", "")
	defer ts.Close()

	cfg := AudioConfig{PollInterval: 50 * time.Millisecond, MaxPolls: 1000}
	p := NewAudio(s, external.NewRenderClient(ts.URL), cfg, zap.NewNop())
	job := claimJob(t, s, jobs.TypeAudioRender, map[string]any{
		"script": "hello",
		"voice":  "nova",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Process(ctx, job)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("audio processor did not honor cancellation")
	}
}

package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"app/internal/apperr"
	"app/internal/config"
	"app/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionResponse(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	require.NoError(t, err)
	return body
}

func newFeedbackFixture(t *testing.T, tier model.Tier, inferenceURL string) FeedbackService {
	t.Helper()
	userRepo := newMemUserRepo()
	userRepo.addUser("u1", "")
	usageSvc := NewUsageService(userRepo, &fixedTierPlanService{tier: tier}, zerolog.Nop())
	cfg := &config.Config{
		InferenceBaseURL: inferenceURL,
		InferenceAPIKey:  "test-key",
		InferenceModel:   "test-model",
	}
	return NewFeedbackService(cfg, usageSvc, zerolog.Nop())
}

func TestGenerateFeedbackSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write(completionResponse(t, `{"summary":"Strong composition","suggestions":["Vary your line weight"]}`))
	}))
	defer srv.Close()

	svc := newFeedbackFixture(t, model.TierPro, srv.URL)
	fb, err := svc.GenerateFeedback(context.Background(), "u1", "my sketch")
	require.NoError(t, err)
	assert.Equal(t, "Strong composition", fb.Summary)
	assert.Equal(t, []string{"Vary your line weight"}, fb.Suggestions)
	assert.False(t, fb.Degraded)
}

func TestGenerateFeedbackDegradesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc := newFeedbackFixture(t, model.TierPro, srv.URL)
	fb, err := svc.GenerateFeedback(context.Background(), "u1", "my sketch")
	require.NoError(t, err, "inference failure must not fail the request")
	assert.True(t, fb.Degraded)
	assert.NotEmpty(t, fb.Summary)
}

func TestGenerateFeedbackDegradesOnGarbageContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(completionResponse(t, "sorry, I cannot do that"))
	}))
	defer srv.Close()

	svc := newFeedbackFixture(t, model.TierPro, srv.URL)
	fb, err := svc.GenerateFeedback(context.Background(), "u1", "my sketch")
	require.NoError(t, err)
	assert.True(t, fb.Degraded)
}

func TestGenerateFeedbackQuotaBeatsDegradation(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(completionResponse(t, `{"summary":"ok","suggestions":[]}`))
	}))
	defer srv.Close()

	svc := newFeedbackFixture(t, model.TierFree, srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.GenerateFeedback(ctx, "u1", "sketch")
		require.NoError(t, err)
	}

	// The fourth call is refused by quota, not served degraded.
	_, err := svc.GenerateFeedback(ctx, "u1", "sketch")
	qe, ok := apperr.IsQuotaExceeded(err)
	require.True(t, ok)
	assert.Equal(t, CodeFreeAITrainingLimit, qe.Code)
	assert.Equal(t, 3, calls, "no inference call once the cap is spent")
}

func TestGenerateFeedbackRejectsEmptyContent(t *testing.T) {
	svc := newFeedbackFixture(t, model.TierPro, "http://localhost:1")
	_, err := svc.GenerateFeedback(context.Background(), "u1", "   ")
	var ve *apperr.ValidationError
	assert.ErrorAs(t, err, &ve)
}

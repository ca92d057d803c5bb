package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"app/internal/apperr"
	"app/internal/config"
	"app/internal/model"

	"github.com/rs/zerolog"
)

// Feedback is the generated critique for a submitted artwork.
type Feedback struct {
	Summary     string   `json:"summary"`
	Suggestions []string `json:"suggestions"`
	Degraded    bool     `json:"degraded"`
}

// defaultFeedback stands in when the inference call fails or returns
// something unusable. The request still succeeds; only the content degrades.
func defaultFeedback() *Feedback {
	return &Feedback{
		Summary:     "We could not generate detailed feedback for this submission right now.",
		Suggestions: []string{"Please try again in a few minutes."},
		Degraded:    true,
	}
}

// FeedbackService generates textual feedback on submitted content through a
// chat-completion API. FREE-tier callers spend one AI-training unit per call.
type FeedbackService interface {
	GenerateFeedback(ctx context.Context, userID, content string) (*Feedback, error)
}

type feedbackService struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	model    string
	usageSvc UsageService
	logger   zerolog.Logger
}

// NewFeedbackService creates a new FeedbackService.
func NewFeedbackService(cfg *config.Config, usageSvc UsageService, logger zerolog.Logger) FeedbackService {
	return &feedbackService{
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  strings.TrimRight(cfg.InferenceBaseURL, "/"),
		apiKey:   cfg.InferenceAPIKey,
		model:    cfg.InferenceModel,
		usageSvc: usageSvc,
		logger:   logger.With().Str("service", "FeedbackService").Logger(),
	}
}

func (s *feedbackService) GenerateFeedback(ctx context.Context, userID, content string) (*Feedback, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validationf("content is required")
	}
	// Quota first: a capped user gets the typed error, not a degraded payload.
	if err := s.usageSvc.Reserve(ctx, userID, model.UsageAITraining); err != nil {
		return nil, err
	}

	feedback, err := s.callInference(ctx, content)
	if err != nil {
		// Degrade instead of failing the whole request.
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Inference call failed, returning default feedback")
		return defaultFeedback(), nil
	}
	return feedback, nil
}

func (s *feedbackService) callInference(ctx context.Context, content string) (*Feedback, error) {
	requestBody := map[string]interface{}{
		"model": s.model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are an art instructor. Reply with JSON: {\"summary\": string, \"suggestions\": [string]}."},
			{"role": "user", "content": content},
		},
	}
	bodyJSON, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read inference response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apperr.ExternalProviderError{Provider: "inference", Msg: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("invalid inference response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("inference response has no choices")
	}

	var feedback Feedback
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &feedback); err != nil {
		return nil, fmt.Errorf("inference content is not valid feedback JSON: %w", err)
	}
	if feedback.Summary == "" {
		return nil, fmt.Errorf("inference content has empty summary")
	}
	return &feedback, nil
}

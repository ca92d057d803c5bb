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
)

// ProvisionResult is what a provider hands back for a provisioned resource.
type ProvisionResult struct {
	ExternalID string
	Endpoint   string
	Raw        json.RawMessage
}

// InfraProvider allocates a dedicated backing resource. Calls are keyed with
// an idempotency key so a retried request never allocates twice.
type InfraProvider interface {
	Name() string
	Provision(ctx context.Context, userID string, tier model.Tier, idempotencyKey string) (*ProvisionResult, error)
}

// NewInfraProvider returns the HTTP provider when a base URL is configured and
// the local simulator otherwise.
func NewInfraProvider(cfg *config.Config) InfraProvider {
	if cfg.ProvisionerBaseURL == "" {
		return &simulatedProvider{}
	}
	return &httpProvider{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: strings.TrimRight(cfg.ProvisionerBaseURL, "/"),
		apiKey:  cfg.ProvisionerAPIKey,
		region:  cfg.ProvisionerRegion,
	}
}

// simulatedProvider fabricates deterministic resources for local development
// and tests; the same idempotency key always yields the same resource.
type simulatedProvider struct{}

func (p *simulatedProvider) Name() string { return "simulated" }

func (p *simulatedProvider) Provision(_ context.Context, _ string, _ model.Tier, idempotencyKey string) (*ProvisionResult, error) {
	suffix := idempotencyKey
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return &ProvisionResult{
		ExternalID: "sim-" + suffix,
		Endpoint:   fmt.Sprintf("postgres://sim-%s.db.internal:5432", suffix),
	}, nil
}

type httpProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	region  string
}

func (p *httpProvider) Name() string { return "http" }

func (p *httpProvider) Provision(ctx context.Context, userID string, tier model.Tier, idempotencyKey string) (*ProvisionResult, error) {
	requestBody := map[string]string{
		"userId": userID,
		"tier":   string(tier),
		"region": p.region,
	}
	bodyJSON, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/databases", bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create provision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &apperr.ExternalProviderError{Provider: p.Name(), Msg: "provision request failed", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperr.ExternalProviderError{Provider: p.Name(), Msg: "failed to read provision response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errorResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
			msg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, errorResp.Error.Message)
		}
		return nil, &apperr.ExternalProviderError{Provider: p.Name(), Msg: msg}
	}

	var out struct {
		ID       string `json:"id"`
		Endpoint string `json:"endpoint"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &apperr.ExternalProviderError{Provider: p.Name(), Msg: "invalid provision response", Err: err}
	}
	if out.ID == "" {
		return nil, &apperr.ExternalProviderError{Provider: p.Name(), Msg: "provision response missing resource id"}
	}
	return &ProvisionResult{ExternalID: out.ID, Endpoint: out.Endpoint, Raw: body}, nil
}

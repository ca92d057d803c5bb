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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedProviderIsDeterministic(t *testing.T) {
	p := &simulatedProvider{}
	ctx := context.Background()

	first, err := p.Provision(ctx, "u1", model.TierProPlus, "abcdef1234567890")
	require.NoError(t, err)
	second, err := p.Provision(ctx, "u1", model.TierProPlus, "abcdef1234567890")
	require.NoError(t, err)

	assert.Equal(t, "sim-abcdef12", first.ExternalID)
	assert.Equal(t, first.ExternalID, second.ExternalID)
	assert.Equal(t, first.Endpoint, second.Endpoint)
}

func TestNewInfraProviderSelectsByConfig(t *testing.T) {
	sim := NewInfraProvider(&config.Config{})
	assert.Equal(t, "simulated", sim.Name())

	remote := NewInfraProvider(&config.Config{ProvisionerBaseURL: "https://provisioner.internal"})
	assert.Equal(t, "http", remote.Name())
}

func TestHTTPProviderProvision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/databases", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u1", req["userId"])
		assert.Equal(t, "PRO_PLUS", req["tier"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"id":       "db-42",
			"endpoint": "postgres://db-42.provider.net:5432",
		})
	}))
	defer srv.Close()

	p := NewInfraProvider(&config.Config{ProvisionerBaseURL: srv.URL, ProvisionerAPIKey: "secret", ProvisionerRegion: "us-east-1"})
	res, err := p.Provision(context.Background(), "u1", model.TierProPlus, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "db-42", res.ExternalID)
	assert.Equal(t, "postgres://db-42.provider.net:5432", res.Endpoint)
}

func TestHTTPProviderErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error with message",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
				json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "region at capacity"}})
			},
		},
		{
			name: "missing resource id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"endpoint": "postgres://x"})
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			p := NewInfraProvider(&config.Config{ProvisionerBaseURL: srv.URL})
			_, err := p.Provision(context.Background(), "u1", model.TierCreator, "idem-1")
			require.Error(t, err)
			var pe *apperr.ExternalProviderError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

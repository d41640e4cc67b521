// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gateway implements the Tenant Gateway: it terminates
// preview-session HTTP traffic, resolves sessions against the authority,
// binds schema-pinned database clients, and injects the sandbox providers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/previewlabs/previewd/pkg/api"
	"github.com/previewlabs/previewd/pkg/config"
	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/internalauth"
	"github.com/previewlabs/previewd/pkg/logger"
	"github.com/previewlabs/previewd/pkg/telemetry"
)

// authorityCallTimeout bounds one resolve round trip.
const authorityCallTimeout = 15 * time.Second

// SessionInfo is the gateway's projection of a session, as returned by the
// authority's resolve endpoint.
type SessionInfo struct {
	Features     []string  `json:"selectedFeatures"`
	Tier         string    `json:"tier"`
	SchemaName   string    `json:"schemaName,omitempty"`
	SchemaStatus string    `json:"schemaStatus"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Ready reports whether the session's schema accepts tenant traffic.
func (s *SessionInfo) Ready() bool {
	return s.SchemaStatus == "READY"
}

// AuthorityClient calls the authority's internal HTTP surface with
// HMAC-signed requests behind a circuit breaker. Definitive answers
// (not found, expired) count as breaker successes: they prove the
// authority is healthy even though the lookup failed.
type AuthorityClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewAuthorityClient builds the signed, breaker-protected client.
func NewAuthorityClient(baseURL string, auth *internalauth.Authenticator, cfg *config.Config, metrics *telemetry.Metrics) *AuthorityClient {
	threshold := uint32(cfg.CircuitThreshold) // #nosec G115 - validated min=1

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "authority",
		Timeout: cfg.CircuitResetInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || apperrors.HTTPStatus(err) < http.StatusInternalServerError
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("%s circuit breaker: %s -> %s", name, from, to)
			metrics.CircuitState.Set(circuitStateValue(to))
		},
	})

	return &AuthorityClient{
		baseURL: baseURL,
		client:  internalauth.NewClient(auth, authorityCallTimeout),
		breaker: breaker,
	}
}

func circuitStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Resolve fetches the session projection for a token. While the circuit is
// open every call fails fast with an authority-unavailable error.
func (c *AuthorityClient) Resolve(ctx context.Context, token string) (*SessionInfo, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		var info SessionInfo
		if err := c.get(ctx, "/api/preview/sessions/"+url.PathEscape(token), &info); err != nil {
			return nil, err
		}
		return &info, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.NewAuthorityUnavailableError("authority circuit open", err)
		}
		return nil, err
	}
	return result.(*SessionInfo), nil
}

// ActiveSchemaNames fetches the schema names still referenced by
// non-terminal sessions. Satisfies the orphan sweeper's reference source.
func (c *AuthorityClient) ActiveSchemaNames(ctx context.Context) ([]string, error) {
	var data struct {
		SchemaNames []string `json:"schemaNames"`
	}
	result, err := c.breaker.Execute(func() (any, error) {
		if err := c.get(ctx, "/api/preview/schemas/active", &data); err != nil {
			return nil, err
		}
		return data.SchemaNames, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.NewAuthorityUnavailableError("authority circuit open", err)
		}
		return nil, err
	}
	names, _ := result.([]string)
	return names, nil
}

// get performs one signed round trip and decodes the response envelope.
func (c *AuthorityClient) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, authorityCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build authority request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewAuthorityUnavailableError("authority unreachable", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool               `json:"success"`
		Data    json.RawMessage    `json:"data"`
		Error   *api.EnvelopeError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return apperrors.NewAuthorityUnavailableError(
			fmt.Sprintf("malformed authority response (status %d)", resp.StatusCode), err)
	}

	if !envelope.Success {
		if envelope.Error != nil {
			return apperrors.FromCode(envelope.Error.Code, envelope.Error.Message)
		}
		return apperrors.NewAuthorityUnavailableError(
			fmt.Sprintf("authority call failed with status %d", resp.StatusCode), nil)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return apperrors.NewInternalError("failed to decode authority response data", err)
		}
	}
	return nil
}

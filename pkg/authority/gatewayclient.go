// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/previewlabs/previewd/pkg/api"
	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/internalauth"
	"github.com/previewlabs/previewd/pkg/logger"
)

// GatewayAPI is the slice of the gateway's internal surface the authority
// consumes. Declared here so the service can be tested against a stub.
type GatewayAPI interface {
	// Provision asks the gateway to materialise the schema for a claimed
	// session and returns the schema name.
	Provision(ctx context.Context, token string, features []string, tier string) (string, error)

	// Drop destroys a schema by name.
	Drop(ctx context.Context, schemaName string) error

	// InvalidateSession evicts the gateway's cached projection of a session.
	InvalidateSession(ctx context.Context, token string) error

	// Capacity reads the gateway's current capacity probe.
	Capacity(ctx context.Context) (*CapacityInfo, error)
}

// CapacityInfo mirrors the gateway capacity probe payload.
type CapacityInfo struct {
	ActiveSchemas int     `json:"activeSchemas"`
	CachedClients int     `json:"cachedClients"`
	HeapMB        float64 `json:"heapMB"`
	RSSMB         float64 `json:"rssMB"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

const (
	gatewayCallTimeout = 15 * time.Second
	// Provisioning replays the whole DDL bundle and seeds data; it gets a
	// much larger budget than the bookkeeping calls.
	gatewayProvisionTimeout = 2 * time.Minute
	gatewayMaxTries         = 3
)

// GatewayClient calls the gateway's internal HTTP surface with HMAC-signed
// requests, retrying transient failures with exponential backoff.
type GatewayClient struct {
	baseURL          string
	client           *http.Client
	provisionTimeout time.Duration
}

// NewGatewayClient builds the signed client for the gateway base URL.
func NewGatewayClient(baseURL string, auth *internalauth.Authenticator) *GatewayClient {
	return &GatewayClient{
		baseURL:          baseURL,
		client:           internalauth.NewClient(auth, gatewayProvisionTimeout),
		provisionTimeout: gatewayProvisionTimeout,
	}
}

// Provision implements GatewayAPI. Provisioning is not retried: the claim
// transition guarantees at most one run is in flight, and a retry after an
// ambiguous failure could overlap the gateway's compensating rollback.
func (c *GatewayClient) Provision(ctx context.Context, token string, features []string, tier string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.provisionTimeout)
	defer cancel()

	body := map[string]any{"sessionToken": token, "features": features, "tier": tier}
	var data struct {
		SchemaName string `json:"schemaName"`
	}
	if err := c.do(ctx, http.MethodPost, "/internal/schemas/provision", body, &data); err != nil {
		return "", err
	}
	return data.SchemaName, nil
}

// Drop implements GatewayAPI.
func (c *GatewayClient) Drop(ctx context.Context, schemaName string) error {
	return c.doWithRetry(ctx, http.MethodDelete, "/internal/schemas/"+url.PathEscape(schemaName), nil, nil)
}

// InvalidateSession implements GatewayAPI.
func (c *GatewayClient) InvalidateSession(ctx context.Context, token string) error {
	body := map[string]any{"sessionToken": token}
	return c.doWithRetry(ctx, http.MethodPost, "/internal/sessions/invalidate", body, nil)
}

// Capacity implements GatewayAPI.
func (c *GatewayClient) Capacity(ctx context.Context) (*CapacityInfo, error) {
	var info CapacityInfo
	if err := c.doWithRetry(ctx, http.MethodGet, "/internal/schemas/capacity", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// doWithRetry wraps do with exponential backoff for the idempotent calls.
// Definitive answers from the gateway (4xx envelopes) are permanent.
func (c *GatewayClient) doWithRetry(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, gatewayCallTimeout*gatewayMaxTries)
	defer cancel()

	operation := func() (struct{}, error) {
		callCtx, callCancel := context.WithTimeout(ctx, gatewayCallTimeout)
		defer callCancel()

		err := c.do(callCtx, method, path, body, out)
		if err != nil && apperrors.HTTPStatus(err) < http.StatusInternalServerError && apperrors.TypeOf(err) != apperrors.ErrAuthorityUnavailable {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(gatewayMaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Debugf("retrying gateway call %s %s after %v: %v", method, path, wait, err)
		}),
	)
	return err
}

// do performs one signed round trip and decodes the response envelope.
func (c *GatewayClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode gateway request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewInternalError("gateway unreachable", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool               `json:"success"`
		Data    json.RawMessage    `json:"data"`
		Error   *api.EnvelopeError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return apperrors.NewInternalError(
			fmt.Sprintf("malformed gateway response (status %d)", resp.StatusCode), err)
	}

	if !envelope.Success {
		if envelope.Error != nil {
			return apperrors.FromCode(envelope.Error.Code, envelope.Error.Message)
		}
		return apperrors.NewInternalError(
			fmt.Sprintf("gateway call failed with status %d", resp.StatusCode), nil)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return apperrors.NewInternalError("failed to decode gateway response data", err)
		}
	}
	return nil
}

var _ GatewayAPI = (*GatewayClient)(nil)

// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"fmt"
	"time"

	"github.com/previewlabs/previewd/pkg/config"
	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/logger"
	"github.com/previewlabs/previewd/pkg/schemaname"
	"github.com/previewlabs/previewd/pkg/telemetry"
)

// Service implements the session authority operations on top of the store
// and the gateway's internal surface.
type Service struct {
	store   *Store
	gateway GatewayAPI
	cfg     *config.Config
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewService wires the authority service.
func NewService(store *Store, gateway GatewayAPI, cfg *config.Config, metrics *telemetry.Metrics) *Service {
	return &Service{
		store:   store,
		gateway: gateway,
		cfg:     cfg,
		metrics: metrics,
		now:     time.Now,
	}
}

// CreateSession validates the feature selection, enforces the per-IP and
// global capacity limits, and persists a new PENDING session.
func (s *Service) CreateSession(ctx context.Context, features []string, tier, originIP string) (View, error) {
	if err := ValidateFeatures(features); err != nil {
		return View{}, apperrors.NewInvalidArgumentError("invalid feature selection", err)
	}
	if originIP == "" {
		return View{}, apperrors.NewInvalidArgumentError("origin ip is required", nil)
	}

	now := s.now().UTC()

	active, err := s.store.CountActiveForIP(ctx, originIP, now)
	if err != nil {
		return View{}, apperrors.NewInternalError("failed to check session limit", err)
	}
	if active >= s.cfg.MaxSessionsPerIp {
		return View{}, apperrors.NewTooManySessionsError(
			fmt.Sprintf("ip already has %d active sessions", active), nil)
	}

	// The gateway probe is advisory here: provisioning re-checks capacity
	// authoritatively, so an unreachable gateway does not block creation.
	if info, err := s.gateway.Capacity(ctx); err != nil {
		logger.Warnf("capacity probe unavailable, admitting session: %v", err)
	} else if info.ActiveSchemas >= s.cfg.MaxConcurrentSchemas {
		return View{}, apperrors.NewCapacityExhaustedError(
			fmt.Sprintf("schema capacity exhausted (%d active)", info.ActiveSchemas), nil)
	}

	token, err := NewToken()
	if err != nil {
		return View{}, apperrors.NewInternalError("failed to generate token", err)
	}

	session := &Session{
		Token:           token,
		Features:        features,
		Tier:            tier,
		OriginIP:        originIP,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.cfg.PreviewTTL),
		SchemaStatus:    StatusPending,
		LastHeartbeatAt: now,
	}
	if err := s.store.Insert(ctx, session); err != nil {
		return View{}, apperrors.NewInternalError("failed to persist session", err)
	}

	logger.Infow("session created",
		"ip", originIP, "tier", tier, "features", len(features), "expiresAt", session.ExpiresAt)
	return ViewOf(session), nil
}

// GetSession returns the public projection of a session.
func (s *Service) GetSession(ctx context.Context, token string) (View, error) {
	session, err := s.store.Get(ctx, token)
	if err != nil {
		return View{}, err
	}
	if session.Expired(s.now()) && session.SchemaStatus != StatusDropped {
		return View{}, apperrors.NewSessionExpiredError("session expired", nil)
	}
	return ViewOf(session), nil
}

// Heartbeat extends the session's expiry by the configured TTL from now.
// Expiry only ever moves forward.
func (s *Service) Heartbeat(ctx context.Context, token string) (time.Time, error) {
	session, err := s.store.Get(ctx, token)
	if err != nil {
		return time.Time{}, err
	}
	if session.SchemaStatus == StatusDropped || session.Expired(s.now()) {
		return time.Time{}, apperrors.NewSessionExpiredError("session expired", nil)
	}

	newExpiry := s.now().UTC().Add(s.cfg.PreviewTTL)
	if err := s.store.Heartbeat(ctx, token, newExpiry); err != nil {
		return time.Time{}, err
	}
	return newExpiry, nil
}

// ListSessionsForIP returns the projections of every session for an IP.
func (s *Service) ListSessionsForIP(ctx context.Context, ip string) ([]View, error) {
	sessions, err := s.store.ListByIP(ctx, ip)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list sessions", err)
	}
	views := make([]View, 0, len(sessions))
	for i := range sessions {
		views = append(views, ViewOf(&sessions[i]))
	}
	return views, nil
}

// Resolve returns the internal projection served to the gateway. Terminal
// and expired sessions surface as expired so the gateway can evict.
func (s *Service) Resolve(ctx context.Context, token string) (View, error) {
	session, err := s.store.Get(ctx, token)
	if err != nil {
		return View{}, err
	}
	if session.SchemaStatus == StatusDropped || session.Expired(s.now()) {
		return View{}, apperrors.NewSessionExpiredError("session expired or dropped", nil)
	}
	return ViewOf(session), nil
}

// Provision drives a session from PENDING to READY (or FAILED). The claim
// transition is the only coordination primitive: of any number of
// concurrent calls, exactly one performs the gateway provision.
func (s *Service) Provision(ctx context.Context, token string) (string, error) {
	session, err := s.store.Get(ctx, token)
	if err != nil {
		return "", err
	}
	if session.Expired(s.now()) || session.SchemaStatus == StatusDropped {
		return "", apperrors.NewSessionExpiredError("session expired", nil)
	}

	prior, err := s.store.ClaimProvisioning(ctx, token)
	if err != nil {
		if !apperrors.IsAlreadyClaimed(err) {
			return "", err
		}
		switch prior {
		case StatusReady:
			// Another caller finished first: reuse its schema. The first
			// read may predate the winner recording the name, so derive it;
			// derivation and the recorded name always agree.
			if session.SchemaName.Valid {
				s.metrics.ProvisionTotal.WithLabelValues("reused").Inc()
				return session.SchemaName.String, nil
			}
			schema, derr := schemaname.FromToken(token)
			if derr != nil {
				return "", derr
			}
			s.metrics.ProvisionTotal.WithLabelValues("reused").Inc()
			return schema, nil
		case StatusProvisioning:
			s.metrics.ProvisionTotal.WithLabelValues("already_claimed").Inc()
			return "", err
		case StatusFailed:
			return "", apperrors.NewInternalError("provisioning previously failed for session", nil)
		default:
			return "", err
		}
	}

	start := s.now()
	schema, err := s.gateway.Provision(ctx, token, session.Features, session.Tier)
	if err != nil {
		// The gateway has already rolled back any partial schema; the row
		// transitions to FAILED so later callers abort instead of waiting.
		if markErr := s.store.MarkFailed(ctx, token); markErr != nil {
			logger.Errorf("failed to mark session failed after provision error: %v", markErr)
		}
		if apperrors.IsCapacityExhausted(err) {
			s.metrics.ProvisionTotal.WithLabelValues("capacity_exhausted").Inc()
		} else {
			s.metrics.ProvisionTotal.WithLabelValues("failed").Inc()
		}
		return "", err
	}

	if err := s.store.MarkReady(ctx, token, schema); err != nil {
		// The session advanced underneath us (expiry sweep racing a slow
		// provision). The schema must not outlive the session row.
		logger.Warnf("session advanced during provision, dropping schema %s: %v", schema, err)
		if dropErr := s.gateway.Drop(ctx, schema); dropErr != nil {
			logger.Errorf("failed to drop schema after lost mark-ready race: %v", dropErr)
		}
		return "", err
	}

	s.metrics.ProvisionTotal.WithLabelValues("provisioned").Inc()
	s.metrics.ProvisionDuration.Observe(s.now().Sub(start).Seconds())
	logger.Infow("session provisioned", "schema", schema, "duration", s.now().Sub(start))
	return schema, nil
}

// Terminate drops the session's schema, invalidates the gateway's cached
// projection, and marks the row DROPPED. Idempotent.
func (s *Service) Terminate(ctx context.Context, token string) error {
	session, err := s.store.Get(ctx, token)
	if err != nil {
		return err
	}

	if session.SchemaStatus != StatusDropped {
		schema := session.SchemaName.String
		if schema == "" && session.SchemaStatus != StatusPending {
			// A claim may have created a schema before the name was
			// recorded; derive it so nothing is orphaned.
			if derived, derr := schemaname.FromToken(token); derr == nil {
				schema = derived
			}
		}
		if schema != "" {
			if err := s.gateway.Drop(ctx, schema); err != nil {
				return apperrors.NewInternalError("failed to drop schema", err)
			}
		}
	}

	if err := s.gateway.InvalidateSession(ctx, token); err != nil {
		// Cache invalidation is best-effort; the gateway TTL bounds staleness.
		logger.Warnf("failed to invalidate gateway session cache: %v", err)
	}

	return s.store.MarkDropped(ctx, token)
}

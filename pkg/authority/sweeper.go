// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"time"

	"github.com/previewlabs/previewd/pkg/logger"
)

// expiredBatchSize bounds how many sessions one sweep pass retires.
const expiredBatchSize = 100

// Sweeper periodically retires expired sessions: it drops their schemas via
// the gateway, invalidates the gateway session cache, and marks the rows
// DROPPED. It only acts on expired rows, so running it concurrently with
// user activity is safe.
type Sweeper struct {
	service  *Service
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSweeper creates an expiry sweeper with the given period.
func NewSweeper(service *Service, interval time.Duration) *Sweeper {
	return &Sweeper{
		service:  service,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepOnce(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// SweepOnce retires one batch of expired sessions. Failures on individual
// sessions are logged and skipped; the next pass retries them.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := s.service.now()
	expired, err := s.service.store.ListExpired(ctx, now, expiredBatchSize)
	if err != nil {
		logger.Errorf("expiry sweep failed to list sessions: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	retired := 0
	for i := range expired {
		token := expired[i].Token
		if err := s.service.Terminate(ctx, token); err != nil {
			logger.Warnf("expiry sweep failed to terminate session: %v", err)
			continue
		}
		s.service.metrics.SessionsExpired.Inc()
		retired++
	}
	logger.Infow("expiry sweep complete", "expired", len(expired), "retired", retired)
}

// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/previewlabs/previewd/pkg/api"
	"github.com/previewlabs/previewd/pkg/authority"
	"github.com/previewlabs/previewd/pkg/config"
	"github.com/previewlabs/previewd/pkg/internalauth"
	"github.com/previewlabs/previewd/pkg/logger"
	"github.com/previewlabs/previewd/pkg/telemetry"
)

var authorityCmd = &cobra.Command{
	Use:   "authority",
	Short: "Run the session authority process",
	Long: `Run the session authority: the authoritative catalogue of preview
sessions and the schema lifecycle state machine. The authority exposes the
public session API and the HMAC-protected internal surface the gateway
resolves sessions against.`,
	RunE: authorityCmdFunc,
}

func authorityCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := sqlx.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	store := authority.NewStore(db)
	if err := store.EnsureCatalog(ctx); err != nil {
		return fmt.Errorf("failed to ensure session catalogue: %w", err)
	}

	auth, err := internalauth.New(cfg.InternalAPISecret, cfg.MaxClockSkew)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics("authority")
	gateway := authority.NewGatewayClient(cfg.GatewayBaseURL, auth)
	service := authority.NewService(store, gateway, cfg, metrics)

	sweeper := authority.NewSweeper(service, cfg.ExpirySweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	logger.Infow("authority starting",
		"listen", cfg.AuthorityListenAddr,
		"sessions_per_ip", cfg.MaxSessionsPerIp,
		"preview_ttl", cfg.PreviewTTL)

	routers := map[string]http.Handler{
		"/health":          api.HealthRouter(),
		"/metrics":         metrics.Handler(),
		"/api/v1/sessions": authority.Router(service),
		"/api/preview":     authority.InternalRouter(service, auth),
	}
	return api.Serve(ctx, cfg.AuthorityListenAddr, routers)
}

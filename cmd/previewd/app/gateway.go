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
	"github.com/previewlabs/previewd/pkg/config"
	"github.com/previewlabs/previewd/pkg/gateway"
	"github.com/previewlabs/previewd/pkg/internalauth"
	"github.com/previewlabs/previewd/pkg/logger"
	"github.com/previewlabs/previewd/pkg/sandbox"
	"github.com/previewlabs/previewd/pkg/schemamgr"
	"github.com/previewlabs/previewd/pkg/telemetry"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the tenant gateway process",
	Long: `Run the tenant gateway: it terminates preview-session traffic, owns
the schema manager and its bounded client cache, and substitutes sandbox
providers for email, payment, and storage.`,
	RunE: gatewayCmdFunc,
}

func gatewayCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	admin, err := sqlx.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := admin.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	bundle, err := schemamgr.LoadBundle(cfg.DDLBundlePath)
	if err != nil {
		return err
	}

	auth, err := internalauth.New(cfg.InternalAPISecret, cfg.MaxClockSkew)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics("gateway")
	authorityClient := gateway.NewAuthorityClient(cfg.AuthorityBaseURL, auth, cfg, metrics)

	manager := schemamgr.NewManager(admin, bundle, cfg, metrics, authorityClient)
	defer manager.Shutdown()

	stopSweeper := manager.StartOrphanSweeper(ctx, cfg.OrphanSweepInterval)
	defer stopSweeper()

	providers := sandbox.NewMockProviders()
	resolver := gateway.NewResolver(gateway.NewSessionCache(cfg.SessionCacheTTL), authorityClient, metrics)
	pipeline := gateway.NewPipeline(resolver, manager, providers)

	email, ok := providers.Email.(*sandbox.MockEmailProvider)
	if !ok {
		return fmt.Errorf("email provider is not the preview mock")
	}

	logger.Infow("gateway starting",
		"listen", cfg.GatewayListenAddr,
		"max_schemas", cfg.MaxConcurrentSchemas,
		"cached_clients", cfg.MaxCachedClients)

	routers := map[string]http.Handler{
		"/health":  api.HealthRouter(),
		"/metrics": metrics.Handler(),
		// Provisioning legitimately outlives the public request budget.
		"/internal": api.LongRunning{Handler: gateway.InternalRouter(manager, resolver, email, auth, metrics)},
		"/api/v1":   gateway.TenantRouter(pipeline),
	}
	return api.Serve(ctx, cfg.GatewayListenAddr, routers)
}

// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previewlabs/previewd/pkg/config"
	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/schemaname"
	"github.com/previewlabs/previewd/pkg/telemetry"
)

// stubGateway lets each test script the gateway's internal surface.
type stubGateway struct {
	provisionFn  func(ctx context.Context, token string, features []string, tier string) (string, error)
	dropFn       func(ctx context.Context, schemaName string) error
	invalidateFn func(ctx context.Context, token string) error
	capacityFn   func(ctx context.Context) (*CapacityInfo, error)

	dropped     []string
	invalidated []string
}

func (g *stubGateway) Provision(ctx context.Context, token string, features []string, tier string) (string, error) {
	if g.provisionFn != nil {
		return g.provisionFn(ctx, token, features, tier)
	}
	return schemaname.FromToken(token)
}

func (g *stubGateway) Drop(ctx context.Context, schemaName string) error {
	g.dropped = append(g.dropped, schemaName)
	if g.dropFn != nil {
		return g.dropFn(ctx, schemaName)
	}
	return nil
}

func (g *stubGateway) InvalidateSession(ctx context.Context, token string) error {
	g.invalidated = append(g.invalidated, token)
	if g.invalidateFn != nil {
		return g.invalidateFn(ctx, token)
	}
	return nil
}

func (g *stubGateway) Capacity(ctx context.Context) (*CapacityInfo, error) {
	if g.capacityFn != nil {
		return g.capacityFn(ctx)
	}
	return &CapacityInfo{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		MaxConcurrentSchemas: 50,
		MaxSessionsPerIp:     5,
		PreviewTTL:           4 * time.Hour,
	}
}

func newTestService(t *testing.T, gateway GatewayAPI) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	store, mock := newMockStore(t)
	service := NewService(store, gateway, testConfig(), telemetry.NewMetrics("authority_test"))
	return service, mock
}

func TestCreateSessionEnforcesPerIPCap(t *testing.T) {
	t.Parallel()

	service, mock := newTestService(t, &stubGateway{})
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM sessions`)).
		WithArgs("203.0.113.7", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	_, err := service.CreateSession(context.Background(), []string{"ecommerce"}, "pro", "203.0.113.7")
	require.Error(t, err)
	assert.True(t, apperrors.IsTooManySessions(err))
}

func TestCreateSessionRejectsInvalidFeature(t *testing.T) {
	t.Parallel()

	service, _ := newTestService(t, &stubGateway{})
	_, err := service.CreateSession(context.Background(), []string{"Ecommerce;DROP"}, "pro", "203.0.113.7")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidArgument(err))
}

func TestCreateSessionCapacityProbeFailsOpen(t *testing.T) {
	t.Parallel()

	gateway := &stubGateway{
		capacityFn: func(context.Context) (*CapacityInfo, error) {
			return nil, errors.New("gateway unreachable")
		},
	}
	service, mock := newTestService(t, gateway)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM sessions`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sessions`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	view, err := service.CreateSession(context.Background(), []string{"ecommerce"}, "pro", "203.0.113.7")
	require.NoError(t, err)
	assert.NotEmpty(t, view.Token)
	assert.Equal(t, StatusPending, view.SchemaStatus)
}

func TestCreateSessionRefusedAtGlobalCapacity(t *testing.T) {
	t.Parallel()

	gateway := &stubGateway{
		capacityFn: func(context.Context) (*CapacityInfo, error) {
			return &CapacityInfo{ActiveSchemas: 50}, nil
		},
	}
	service, mock := newTestService(t, gateway)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM sessions`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, err := service.CreateSession(context.Background(), []string{"ecommerce"}, "pro", "203.0.113.7")
	require.Error(t, err)
	assert.True(t, apperrors.IsCapacityExhausted(err))
}

func TestProvisionHappyPath(t *testing.T) {
	t.Parallel()

	service, mock := newTestService(t, &stubGateway{})
	expected, err := schemaname.FromToken("tok")
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusPending, nil, time.Now().Add(time.Hour)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET schema_status = 'PROVISIONING'`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET schema_status = 'READY'`)).
		WithArgs("tok", expected).
		WillReturnResult(sqlmock.NewResult(0, 1))

	schema, err := service.Provision(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, expected, schema)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionLostRaceReturnsWinnersSchema(t *testing.T) {
	t.Parallel()

	gateway := &stubGateway{
		provisionFn: func(context.Context, string, []string, string) (string, error) {
			t.Fatal("loser must not provision")
			return "", nil
		},
	}
	service, mock := newTestService(t, gateway)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusPending, nil, time.Now().Add(time.Hour)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET schema_status = 'PROVISIONING'`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusReady, "preview_winner", time.Now().Add(time.Hour)))

	schema, err := service.Provision(context.Background(), "tok")
	require.NoError(t, err)

	derived, err := schemaname.FromToken("tok")
	require.NoError(t, err)
	assert.Equal(t, derived, schema)
}

func TestProvisionConcurrentClaimSurfacesAlreadyClaimed(t *testing.T) {
	t.Parallel()

	service, mock := newTestService(t, &stubGateway{})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusProvisioning, nil, time.Now().Add(time.Hour)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET schema_status = 'PROVISIONING'`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusProvisioning, nil, time.Now().Add(time.Hour)))

	_, err := service.Provision(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, apperrors.IsAlreadyClaimed(err))
}

func TestProvisionFailureMarksFailed(t *testing.T) {
	t.Parallel()

	gateway := &stubGateway{
		provisionFn: func(context.Context, string, []string, string) (string, error) {
			return "", apperrors.NewInternalError("seed failed", nil)
		},
	}
	service, mock := newTestService(t, gateway)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusPending, nil, time.Now().Add(time.Hour)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET schema_status = 'PROVISIONING'`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET schema_status = 'FAILED'`)).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := service.Provision(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionExpiredSession(t *testing.T) {
	t.Parallel()

	service, mock := newTestService(t, &stubGateway{})
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusPending, nil, time.Now().Add(-time.Minute)))

	_, err := service.Provision(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, apperrors.IsSessionExpired(err))
}

func TestTerminateDropsSchemaAndInvalidates(t *testing.T) {
	t.Parallel()

	gateway := &stubGateway{}
	service, mock := newTestService(t, gateway)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusReady, "preview_abc", time.Now().Add(time.Hour)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET schema_status = 'DROPPED'`)).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, service.Terminate(context.Background(), "tok"))
	assert.Equal(t, []string{"preview_abc"}, gateway.dropped)
	assert.Equal(t, []string{"tok"}, gateway.invalidated)
}

func TestTerminatePendingSkipsDrop(t *testing.T) {
	t.Parallel()

	gateway := &stubGateway{}
	service, mock := newTestService(t, gateway)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusPending, nil, time.Now().Add(time.Hour)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET schema_status = 'DROPPED'`)).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, service.Terminate(context.Background(), "tok"))
	assert.Empty(t, gateway.dropped)
}

func TestHeartbeatExtendsExpiry(t *testing.T) {
	t.Parallel()

	service, mock := newTestService(t, &stubGateway{})
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusReady, "preview_abc", time.Now().Add(time.Hour)))
	mock.ExpectExec(regexp.QuoteMeta(`SET expires_at = GREATEST`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	expiry, err := service.Heartbeat(context.Background(), "tok")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(4*time.Hour), expiry, time.Minute)
}

func TestHeartbeatRejectsDropped(t *testing.T) {
	t.Parallel()

	service, mock := newTestService(t, &stubGateway{})
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusDropped, "preview_abc", time.Now().Add(time.Hour)))

	_, err := service.Heartbeat(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, apperrors.IsSessionExpired(err))
}

func TestResolveExpiredSession(t *testing.T) {
	t.Parallel()

	service, mock := newTestService(t, &stubGateway{})
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusReady, "preview_abc", time.Now().Add(-time.Minute)))

	_, err := service.Resolve(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, apperrors.IsSessionExpired(err))
}

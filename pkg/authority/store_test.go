// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/schemaname"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(sqlx.NewDb(db, "sqlmock")), mock
}

func sessionRows(token string, status Status, schemaName any, expiresAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"token", "features", "tier", "origin_ip", "created_at", "expires_at",
		"schema_name", "schema_status", "last_heartbeat_at",
	}).AddRow(token, `["ecommerce.products"]`, "pro", "203.0.113.7",
		time.Now().Add(-time.Hour), expiresAt, schemaName, status, time.Now())
}

func TestClaimProvisioningWinsOnPending(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET schema_status = 'PROVISIONING'`)).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 1))

	prior, err := store.ClaimProvisioning(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, prior)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimProvisioningLosesRace(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET schema_status = 'PROVISIONING'`)).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features, tier, origin_ip`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusProvisioning, nil, time.Now().Add(time.Hour)))

	prior, err := store.ClaimProvisioning(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, apperrors.IsAlreadyClaimed(err))
	assert.Equal(t, StatusProvisioning, prior)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimProvisioningUnknownToken(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET schema_status = 'PROVISIONING'`)).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features, tier, origin_ip`)).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"token"}))

	_, err := store.ClaimProvisioning(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMarkReadyRequiresProvisioning(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET schema_status = 'READY', schema_name = $2`)).
		WithArgs("tok", "preview_abc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkReady(context.Background(), "tok", "preview_abc"))

	// A session that advanced past PROVISIONING must not be resurrected.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET schema_status = 'READY', schema_name = $2`)).
		WithArgs("tok", "preview_abc").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkReady(context.Background(), "tok", "preview_abc")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestHeartbeatOnlyMovesExpiryForward(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	newExpiry := time.Now().Add(4 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta(`SET expires_at = GREATEST(expires_at, $2)`)).
		WithArgs("tok", newExpiry).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Heartbeat(context.Background(), "tok", newExpiry))

	mock.ExpectExec(regexp.QuoteMeta(`SET expires_at = GREATEST(expires_at, $2)`)).
		WithArgs("dropped", newExpiry).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Heartbeat(context.Background(), "dropped", newExpiry)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features, tier, origin_ip`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"token"}))

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetScansFeatureSet(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, features, tier, origin_ip`)).
		WithArgs("tok").
		WillReturnRows(sessionRows("tok", StatusReady, "preview_abc", time.Now().Add(time.Hour)))

	session, err := store.Get(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, FeatureSet{"ecommerce.products"}, session.Features)
	assert.Equal(t, "preview_abc", session.SchemaName.String)
	assert.Equal(t, StatusReady, session.SchemaStatus)
}

func TestActiveSchemaNamesDerivesMissingNames(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, schema_name FROM sessions`)).
		WillReturnRows(sqlmock.NewRows([]string{"token", "schema_name"}).
			AddRow("tok-ready", "preview_recorded000000000000000").
			AddRow("tok-provisioning", nil))

	names, err := store.ActiveSchemaNames(context.Background())
	require.NoError(t, err)

	derived, err := schemaname.FromToken("tok-provisioning")
	require.NoError(t, err)
	assert.Equal(t, []string{"preview_recorded000000000000000", derived}, names)
}

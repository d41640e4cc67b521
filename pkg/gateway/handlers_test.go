// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previewlabs/previewd/pkg/sandbox"
	"github.com/previewlabs/previewd/pkg/telemetry"
)

type tenantFixture struct {
	handler   http.Handler
	mock      sqlmock.Sqlmock
	providers *sandbox.Providers
}

func newTenantFixture(t *testing.T, features []string) tenantFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	source := &stubSource{fn: func(context.Context, string) (*SessionInfo, error) {
		return &SessionInfo{
			Features:     features,
			Tier:         "pro",
			SchemaName:   "preview_a",
			SchemaStatus: "READY",
			ExpiresAt:    time.Now().Add(time.Hour),
		}, nil
	}}
	resolver := NewResolver(NewSessionCache(time.Minute), source, telemetry.NewMetrics("tenant_test"))
	providers := sandbox.NewMockProviders()
	binder := &stubBinder{db: sqlx.NewDb(db, "sqlmock")}
	pipeline := NewPipeline(resolver, binder, providers)

	return tenantFixture{handler: TenantRouter(pipeline), mock: mock, providers: providers}
}

func (f tenantFixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(SessionHeader, "tok")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestPingReportsSessionBinding(t *testing.T) {
	t.Parallel()

	f := newTenantFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/ping", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "preview_a", data["schemaName"])
	assert.Equal(t, "pro", data["tier"])
}

func TestListProducts(t *testing.T) {
	t.Parallel()

	f := newTenantFixture(t, []string{"ecommerce.products"})
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, sku, name, price_cents, currency, stock FROM products`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sku", "name", "price_cents", "currency", "stock"}).
			AddRow(1, "SKU-1", "Walnut Desk", 45900, "USD", 12).
			AddRow(2, "SKU-2", "Oak Shelf", 12900, "USD", 30))

	rec := f.do(t, http.MethodGet, "/ecommerce/products", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	items, ok := env.Data.([]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	first, ok := items[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Walnut Desk", first["name"])
	assert.Equal(t, float64(45900), first["priceCents"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetProductNotFound(t *testing.T) {
	t.Parallel()

	f := newTenantFixture(t, []string{"ecommerce.products"})
	f.mock.ExpectQuery(regexp.QuoteMeta(`FROM products WHERE id = $1`)).
		WithArgs("99").
		WillReturnError(sql.ErrNoRows)

	rec := f.do(t, http.MethodGet, "/ecommerce/products/99", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestCheckoutOrderRecordsEmail(t *testing.T) {
	t.Parallel()

	f := newTenantFixture(t, []string{"ecommerce"})
	now := time.Now()
	f.mock.ExpectQuery(regexp.QuoteMeta(`FROM orders WHERE id = $1`)).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status", "total_cents", "created_at"}).
			AddRow(7, 3, "pending", 45900, now))
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT email FROM users WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("buyer@example.com"))

	rec := f.do(t, http.MethodPost, "/ecommerce/orders/7/checkout", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, data["id"])
	assert.Equal(t, float64(45900), data["amountCents"])

	// The confirmation email was recorded against the session token, never
	// sent anywhere.
	email, ok := f.providers.Email.(*sandbox.MockEmailProvider)
	require.True(t, ok)
	recorded := email.GetEmails("tok")
	require.Len(t, recorded, 1)
	assert.Equal(t, "buyer@example.com", recorded[0].To)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateBooking(t *testing.T) {
	t.Parallel()

	f := newTenantFixture(t, []string{"booking"})
	f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO bookings`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	body, err := json.Marshal(map[string]any{
		"serviceId": 2,
		"userId":    3,
		"startsAt":  time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/booking/bookings", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	env := decodeEnvelope(t, rec)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), data["id"])
	assert.Equal(t, "confirmed", data["status"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateBookingValidatesInput(t *testing.T) {
	t.Parallel()

	f := newTenantFixture(t, []string{"booking"})
	rec := f.do(t, http.MethodPost, "/booking/bookings", []byte(`{"userId": 3}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_ARGUMENT", env.Error.Code)
}

func TestUnknownRouteEnvelope(t *testing.T) {
	t.Parallel()

	f := newTenantFixture(t, []string{"ecommerce"})
	rec := f.do(t, http.MethodGet, "/ecommerce/warehouses", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	assert.Equal(t, "not found", env.Error.Message)
}

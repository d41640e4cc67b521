// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/previewlabs/previewd/pkg/api"
	apperrors "github.com/previewlabs/previewd/pkg/errors"
)

// TenantRoutes are the feature handlers reachable through the tenant
// pipeline. Every handler reads its database client and sandbox providers
// from the request context; it has no other side-effect surface.
type TenantRoutes struct{}

// TenantRouter creates the feature router. The pipeline middleware has
// already resolved the session, bound the client, and gated the feature.
// Extra mounts let feature services register handlers under the same gate.
func TenantRouter(pipeline *Pipeline, mounts ...func(chi.Router)) http.Handler {
	routes := TenantRoutes{}

	r := chi.NewRouter()
	r.Use(pipeline.Middleware)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		api.WriteError(w, apperrors.NewNotFoundError("not found", nil))
	})
	r.Get("/ping", routes.ping)

	r.Route("/ecommerce", func(r chi.Router) {
		r.Get("/products", routes.listProducts)
		r.Get("/products/{id}", routes.getProduct)
		r.Get("/orders", routes.listOrders)
		r.Post("/orders/{id}/checkout", routes.checkoutOrder)
	})
	r.Route("/booking", func(r chi.Router) {
		r.Get("/services", routes.listServices)
		r.Post("/bookings", routes.createBooking)
	})
	r.Route("/helpdesk", func(r chi.Router) {
		r.Get("/tickets", routes.listTickets)
	})
	r.Route("/crm", func(r chi.Router) {
		r.Get("/contacts", routes.listContacts)
	})

	for _, mount := range mounts {
		mount(r)
	}
	return r
}

type pingResponse struct {
	Status     string `json:"status"`
	SchemaName string `json:"schemaName"`
	Tier       string `json:"tier"`
}

// ping is the core liveness route available to every session.
func (TenantRoutes) ping(w http.ResponseWriter, r *http.Request) {
	info := SessionFromContext(r.Context())
	api.WriteData(w, http.StatusOK, pingResponse{
		Status:     "ok",
		SchemaName: info.SchemaName,
		Tier:       info.Tier,
	})
}

type product struct {
	ID         int64  `db:"id" json:"id"`
	SKU        string `db:"sku" json:"sku"`
	Name       string `db:"name" json:"name"`
	PriceCents int64  `db:"price_cents" json:"priceCents"`
	Currency   string `db:"currency" json:"currency"`
	Stock      int    `db:"stock" json:"stock"`
}

func (TenantRoutes) listProducts(w http.ResponseWriter, r *http.Request) {
	db := ClientFromContext(r.Context())

	var products []product
	err := db.SelectContext(r.Context(), &products,
		`SELECT id, sku, name, price_cents, currency, stock FROM products ORDER BY id`)
	if err != nil {
		api.WriteError(w, apperrors.NewInternalError("failed to list products", err))
		return
	}
	api.WriteData(w, http.StatusOK, products)
}

func (TenantRoutes) getProduct(w http.ResponseWriter, r *http.Request) {
	db := ClientFromContext(r.Context())

	var p product
	err := db.GetContext(r.Context(), &p,
		`SELECT id, sku, name, price_cents, currency, stock FROM products WHERE id = $1`,
		chi.URLParam(r, "id"))
	if errors.Is(err, sql.ErrNoRows) {
		api.WriteError(w, apperrors.NewNotFoundError("not found", nil))
		return
	}
	if err != nil {
		api.WriteError(w, apperrors.NewInternalError("failed to load product", err))
		return
	}
	api.WriteData(w, http.StatusOK, p)
}

type order struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"userId"`
	Status     string    `db:"status" json:"status"`
	TotalCents int64     `db:"total_cents" json:"totalCents"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

func (TenantRoutes) listOrders(w http.ResponseWriter, r *http.Request) {
	db := ClientFromContext(r.Context())

	var orders []order
	err := db.SelectContext(r.Context(), &orders,
		`SELECT id, user_id, status, total_cents, created_at FROM orders ORDER BY id`)
	if err != nil {
		api.WriteError(w, apperrors.NewInternalError("failed to list orders", err))
		return
	}
	api.WriteData(w, http.StatusOK, orders)
}

// checkoutOrder starts a mock checkout for an order and records a
// confirmation email, exercising the full sandbox surface.
func (TenantRoutes) checkoutOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	db := ClientFromContext(ctx)
	providers := ProvidersFromContext(ctx)
	_ = SessionFromContext(ctx)

	var o order
	err := db.GetContext(ctx, &o,
		`SELECT id, user_id, status, total_cents, created_at FROM orders WHERE id = $1`,
		chi.URLParam(r, "id"))
	if errors.Is(err, sql.ErrNoRows) {
		api.WriteError(w, apperrors.NewNotFoundError("not found", nil))
		return
	}
	if err != nil {
		api.WriteError(w, apperrors.NewInternalError("failed to load order", err))
		return
	}

	checkout, err := providers.Payment.CreateCheckoutSession(ctx, o.TotalCents, "USD")
	if err != nil {
		api.WriteError(w, apperrors.NewInternalError("failed to create checkout", err))
		return
	}

	var email string
	if err := db.GetContext(ctx, &email, `SELECT email FROM users WHERE id = $1`, o.UserID); err == nil {
		_, _ = providers.Email.SendEmail(ctx, sessionToken(r), email,
			"Your checkout is ready", "Complete your purchase at "+checkout.URL)
	}

	api.WriteData(w, http.StatusOK, checkout)
}

type service struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	DurationMin int    `db:"duration_min" json:"durationMin"`
	PriceCents  int64  `db:"price_cents" json:"priceCents"`
}

func (TenantRoutes) listServices(w http.ResponseWriter, r *http.Request) {
	db := ClientFromContext(r.Context())

	var services []service
	err := db.SelectContext(r.Context(), &services,
		`SELECT id, name, duration_min, price_cents FROM services ORDER BY id`)
	if err != nil {
		api.WriteError(w, apperrors.NewInternalError("failed to list services", err))
		return
	}
	api.WriteData(w, http.StatusOK, services)
}

type createBookingRequest struct {
	ServiceID int64     `json:"serviceId"`
	UserID    int64     `json:"userId"`
	StartsAt  time.Time `json:"startsAt"`
}

type createBookingResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func (TenantRoutes) createBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	db := ClientFromContext(ctx)

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, apperrors.NewInvalidArgumentError("malformed booking request", err))
		return
	}
	if req.ServiceID == 0 || req.StartsAt.IsZero() {
		api.WriteError(w, apperrors.NewInvalidArgumentError("serviceId and startsAt are required", nil))
		return
	}

	var id int64
	err := db.GetContext(ctx, &id,
		`INSERT INTO bookings (service_id, user_id, status, starts_at)
		 VALUES ($1, $2, 'confirmed', $3) RETURNING id`,
		req.ServiceID, req.UserID, req.StartsAt)
	if err != nil {
		api.WriteError(w, apperrors.NewInternalError("failed to create booking", err))
		return
	}
	api.WriteData(w, http.StatusCreated, createBookingResponse{ID: id, Status: "confirmed"})
}

type ticket struct {
	ID       int64  `db:"id" json:"id"`
	Subject  string `db:"subject" json:"subject"`
	Status   string `db:"status" json:"status"`
	Priority string `db:"priority" json:"priority"`
}

func (TenantRoutes) listTickets(w http.ResponseWriter, r *http.Request) {
	db := ClientFromContext(r.Context())

	var tickets []ticket
	err := db.SelectContext(r.Context(), &tickets,
		`SELECT id, subject, status, priority FROM tickets ORDER BY id`)
	if err != nil {
		api.WriteError(w, apperrors.NewInternalError("failed to list tickets", err))
		return
	}
	api.WriteData(w, http.StatusOK, tickets)
}

type contact struct {
	ID       int64  `db:"id" json:"id"`
	Email    string `db:"email" json:"email"`
	FullName string `db:"full_name" json:"fullName"`
	Company  string `db:"company" json:"company"`
}

func (TenantRoutes) listContacts(w http.ResponseWriter, r *http.Request) {
	db := ClientFromContext(r.Context())

	var contacts []contact
	err := db.SelectContext(r.Context(), &contacts,
		`SELECT id, email, full_name, company FROM contacts ORDER BY id`)
	if err != nil {
		api.WriteError(w, apperrors.NewInternalError("failed to list contacts", err))
		return
	}
	api.WriteData(w, http.StatusOK, contacts)
}

// sessionToken returns the raw token from the request header.
func sessionToken(r *http.Request) string {
	return r.Header.Get(SessionHeader)
}

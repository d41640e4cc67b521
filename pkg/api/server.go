// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	apperrors "github.com/previewlabs/previewd/pkg/errors"
	"github.com/previewlabs/previewd/pkg/logger"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout  = 60 * time.Second
	longRunningTimeout = 3 * time.Minute
	readHeaderTimeout  = 10 * time.Second
	shutdownTimeout    = 10 * time.Second
)

// LongRunning marks a mounted router whose requests may exceed the default
// per-request budget, such as schema provisioning. Serve gives these mounts
// the extended timeout instead.
type LongRunning struct {
	http.Handler
}

func mountTimeout(router http.Handler) (http.Handler, time.Duration) {
	if lr, ok := router.(LongRunning); ok {
		return lr.Handler, longRunningTimeout
	}
	return router, middlewareTimeout
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// Serve starts an HTTP server on the given address with the given routers
// mounted by prefix, and blocks until ctx is cancelled. It is assumed that
// the caller sets up appropriate signal handling.
func Serve(ctx context.Context, address string, routers map[string]http.Handler) error {
	r := chi.NewRouter()
	r.Use(
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		headersMiddleware,
		cors.Handler(cors.Options{
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Preview-Session"},
		}),
	)

	// Unknown paths get the same envelope as feature-gate refusals.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, apperrors.NewNotFoundError("not found", nil))
	})

	// The request budget is applied per mount so long-running surfaces do
	// not inherit the public one.
	for prefix, router := range routers {
		handler, timeout := mountTimeout(router)
		r.With(middleware.Timeout(timeout)).Mount(prefix, handler)
	}

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	logger.Infof("starting HTTP server on %s", address)

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Panicf("server stopped with error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Infof("HTTP server on %s stopped", address)
	return nil
}

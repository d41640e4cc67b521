// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package internalauth

import (
	"bytes"
	"io"
	"net/http"
	"time"
)

// signingTransport signs outgoing requests with the internal HMAC headers
// before forwarding them to the wrapped RoundTripper.
type signingTransport struct {
	transport http.RoundTripper
	auth      *Authenticator
}

// NewClient builds an HTTP client whose requests carry the internal HMAC
// headers. Used by both processes for peer calls.
func NewClient(auth *Authenticator, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &signingTransport{
			transport: http.DefaultTransport,
			auth:      auth,
		},
		Timeout: timeout,
	}
}

// RoundTrip signs the request and forwards it.
func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original.
	newReq := req.Clone(req.Context())

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
		newReq.Body = io.NopCloser(bytes.NewReader(body))
	}

	timestamp := t.auth.Timestamp()
	newReq.Header.Set(TimestampHeader, timestamp)
	newReq.Header.Set(SignatureHeader, t.auth.Sign(req.Method, req.URL.Path, body, timestamp))

	return t.transport.RoundTrip(newReq)
}

// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package internalauth implements the HMAC scheme protecting the internal
// HTTP surfaces between the authority and the gateway.
//
// Every internal request carries two headers:
//
//	X-Internal-Timestamp: decimal milliseconds since epoch
//	X-Internal-Signature: lowercase hex HMAC-SHA256(secret, "METHOD:PATH:BODY:TIMESTAMP")
//
// BODY is the exact request body as sent; an empty body signs as the empty
// string. The receiver rejects signatures outside the configured clock-skew
// window and compares signatures in constant time.
package internalauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/previewlabs/previewd/pkg/errors"
)

// Header names for the internal surface.
const (
	TimestampHeader = "X-Internal-Timestamp"
	SignatureHeader = "X-Internal-Signature"
)

// MinSecretLength is the minimum accepted shared-secret length.
const MinSecretLength = 16

// Authenticator signs and verifies internal requests with a shared secret.
type Authenticator struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// New creates an Authenticator. The secret must be at least
// MinSecretLength characters.
func New(secret string, maxSkew time.Duration) (*Authenticator, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("internal API secret must be at least %d characters", MinSecretLength)
	}
	if maxSkew <= 0 {
		return nil, fmt.Errorf("max clock skew must be positive, got %s", maxSkew)
	}
	return &Authenticator{
		secret:  []byte(secret),
		maxSkew: maxSkew,
		now:     time.Now,
	}, nil
}

// Sign computes the signature for the given request tuple. The timestamp is
// decimal milliseconds since epoch, exactly as carried in the header.
func (a *Authenticator) Sign(method, path string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(method))
	mac.Write([]byte(":"))
	mac.Write([]byte(path))
	mac.Write([]byte(":"))
	mac.Write(body)
	mac.Write([]byte(":"))
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// Timestamp returns the current time formatted for the timestamp header.
func (a *Authenticator) Timestamp() string {
	return strconv.FormatInt(a.now().UnixMilli(), 10)
}

// Verify checks the timestamp freshness and the signature of a received
// request. It returns an unauthorized error on any mismatch; the reason is
// carried in the error for logging but receivers surface a uniform 401.
func (a *Authenticator) Verify(method, path string, body []byte, timestamp, signature string) error {
	millis, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return apperrors.NewUnauthorizedError("malformed internal timestamp", err)
	}

	skew := a.now().Sub(time.UnixMilli(millis))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.maxSkew {
		return apperrors.NewUnauthorizedError("internal timestamp outside clock-skew window", nil)
	}

	expected := a.Sign(method, path, body, timestamp)
	// hmac.Equal is constant-time; both sides are hex of fixed length.
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return apperrors.NewUnauthorizedError("internal signature mismatch", nil)
	}
	return nil
}

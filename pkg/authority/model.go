// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authority implements the Session Authority: the authoritative
// catalogue of preview sessions, their feature selections, and the schema
// lifecycle state machine.
package authority

import (
	"crypto/rand"
	"database/sql"
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Status is the schema lifecycle state of a session.
type Status string

// Session schema statuses. Transitions are monotonic along
// PENDING -> PROVISIONING -> {READY | FAILED} -> DROPPED and are enforced by
// conditional updates on the session row; there is no application-level lock.
const (
	StatusPending      Status = "PENDING"
	StatusProvisioning Status = "PROVISIONING"
	StatusReady        Status = "READY"
	StatusFailed       Status = "FAILED"
	StatusDropped      Status = "DROPPED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDropped
}

// Session is one row of the catalogue.
type Session struct {
	Token           string         `db:"token"`
	Features        FeatureSet     `db:"features"`
	Tier            string         `db:"tier"`
	OriginIP        string         `db:"origin_ip"`
	CreatedAt       time.Time      `db:"created_at"`
	ExpiresAt       time.Time      `db:"expires_at"`
	SchemaName      sql.NullString `db:"schema_name"`
	SchemaStatus    Status         `db:"schema_status"`
	LastHeartbeatAt time.Time      `db:"last_heartbeat_at"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// FeatureSet is the session's selected feature identifiers, stored as a
// JSON array in a single column so the row stays portable across drivers.
type FeatureSet []string

// Value implements driver.Valuer.
func (f FeatureSet) Value() (driver.Value, error) {
	raw, err := json.Marshal([]string(f))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (f *FeatureSet) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(f))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(f))
	default:
		return fmt.Errorf("cannot scan %T into FeatureSet", src)
	}
}

// featurePattern matches dotted feature identifiers such as
// "ecommerce.products" or bare module names such as "ecommerce".
var featurePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)?$`)

// ValidateFeatures checks every identifier in the selection.
func ValidateFeatures(features []string) error {
	for _, f := range features {
		if !featurePattern.MatchString(f) {
			return fmt.Errorf("invalid feature identifier %q", f)
		}
	}
	return nil
}

// tokenBytes is the raw entropy of a session token. 32 bytes is double the
// required 128-bit minimum.
const tokenBytes = 32

// NewToken generates an opaque, URL-safe session token.
func NewToken() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// View is the public projection of a session; it never includes more than
// the caller needs and carries no secrets beyond the token itself.
type View struct {
	Token        string    `json:"token,omitempty"`
	Features     []string  `json:"selectedFeatures"`
	Tier         string    `json:"tier"`
	SchemaName   string    `json:"schemaName,omitempty"`
	SchemaStatus Status    `json:"schemaStatus"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ViewOf projects a session row.
func ViewOf(s *Session) View {
	return View{
		Token:        s.Token,
		Features:     append([]string(nil), s.Features...),
		Tier:         s.Tier,
		SchemaName:   s.SchemaName.String,
		SchemaStatus: s.SchemaStatus,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
	}
}

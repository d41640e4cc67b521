// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package schemaname derives per-session schema names from session tokens.
//
// The derivation is a pure function: the same token always yields the same
// name, and the output alphabet is restricted so the name can never carry a
// SQL injection. Callers composing raw DDL must still re-validate with
// [Validate] immediately before use.
package schemaname

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"

	apperrors "github.com/previewlabs/previewd/pkg/errors"
)

// Prefix is the namespace prefix shared by every preview schema.
const Prefix = "preview_"

// tokenDigestLen is the number of hex characters of the token digest kept in
// the schema name. 24 hex chars (96 bits) keeps collisions out of reach while
// staying well under PostgreSQL's 63-byte identifier limit.
const tokenDigestLen = 24

var namePattern = regexp.MustCompile(`^preview_[A-Za-z0-9_]{1,54}$`)

// FromToken derives the schema name for a session token.
func FromToken(token string) (string, error) {
	if token == "" {
		return "", apperrors.NewInvalidArgumentError("session token is empty", nil)
	}

	digest := sha256.Sum256([]byte(token))
	name := Prefix + hex.EncodeToString(digest[:])[:tokenDigestLen]

	// The digest alphabet guarantees a match, but the regex is the contract:
	// it is checked here and again before every raw DDL composition.
	if err := Validate(name); err != nil {
		return "", err
	}
	return name, nil
}

// Validate checks that name is a well-formed preview schema name.
func Validate(name string) error {
	if !namePattern.MatchString(name) {
		return apperrors.NewInvalidArgumentError(
			fmt.Sprintf("invalid preview schema name %q", name), nil)
	}
	return nil
}

// IsPreviewSchema reports whether name is a well-formed preview schema name.
func IsPreviewSchema(name string) bool {
	return namePattern.MatchString(name)
}

// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package schemamgr

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

// embeddedBundle is the default precompiled DDL bundle, baked into the
// binary so deployment needs no extra files.
//
//go:embed bundle.sql
var embeddedBundle string

// LoadBundle returns the DDL bundle: the file at path when given, the
// embedded default otherwise. The bundle is loaded once at startup and is
// immutable thereafter.
func LoadBundle(path string) (string, error) {
	if path == "" {
		return embeddedBundle, nil
	}

	raw, err := os.ReadFile(path) // #nosec G304 - path comes from operator config
	if err != nil {
		return "", fmt.Errorf("failed to read DDL bundle %s: %w", path, err)
	}
	bundle := string(raw)
	if strings.TrimSpace(bundle) == "" {
		return "", fmt.Errorf("DDL bundle %s is empty", path)
	}
	return bundle, nil
}

// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the previewd orchestrator.
package main

import (
	"os"

	"github.com/previewlabs/previewd/cmd/previewd/app"
	"github.com/previewlabs/previewd/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the previewd command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:               "previewd",
	DisableAutoGenTag: true,
	Short:             "previewd orchestrates ephemeral preview sandboxes",
	Long: `previewd orchestrates ephemeral preview sandboxes: short-lived, fully
isolated environments where a prospective tenant can exercise a selected
feature set against seeded demo data.

It runs as two cooperating processes. The authority owns the session
catalogue and the schema lifecycle state machine; the gateway terminates
tenant traffic, provisions per-session database schemas, and substitutes
sandbox providers for every outbound side effect.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		_ = cmd.Help()
	},
}

// NewRootCmd creates a new root command for the previewd CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(authorityCmd)
	rootCmd.AddCommand(gatewayCmd)

	return rootCmd
}

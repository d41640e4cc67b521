// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package schemamgr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeedStatementsAlwaysIncludeCore(t *testing.T) {
	t.Parallel()

	statements := seedStatements(nil)
	assert.Equal(t, moduleSeeds["core"], statements)
}

func TestSeedStatementsSelectedModules(t *testing.T) {
	t.Parallel()

	statements := seedStatements([]string{"ecommerce.products", "crm"})

	joined := strings.Join(statements, "\n")
	assert.Contains(t, joined, "INSERT INTO products")
	assert.Contains(t, joined, "INSERT INTO contacts")
	assert.NotContains(t, joined, "INSERT INTO services")
	assert.NotContains(t, joined, "INSERT INTO tickets")
}

func TestSeedStatementsStableOrder(t *testing.T) {
	t.Parallel()

	first := seedStatements([]string{"crm", "booking", "ecommerce.cart"})
	second := seedStatements([]string{"ecommerce.cart", "crm", "booking"})
	assert.Equal(t, first, second)

	// Core always leads.
	assert.Equal(t, moduleSeeds["core"][0], first[0])
}

func TestSeedStatementsUnknownModule(t *testing.T) {
	t.Parallel()

	statements := seedStatements([]string{"telemetry.dashboards"})
	assert.Equal(t, moduleSeeds["core"], statements)
}

func TestModuleOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ecommerce", moduleOf("ecommerce.products"))
	assert.Equal(t, "ecommerce", moduleOf("ecommerce"))
	assert.Equal(t, "booking", moduleOf("booking.services"))
}

// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package schemamgr

import "strings"

// moduleSeeds holds the demo data for each feature module. Statements run
// in order on the schema-pinned connection; a module is seeded when any of
// the session's features belongs to it.
var moduleSeeds = map[string][]string{
	"core": {
		`INSERT INTO app_settings (key, value) VALUES ('store_name', 'Preview Store'), ('locale', 'en-US')`,
		`INSERT INTO users (email, full_name, role) VALUES
			('owner@example.com', 'Preview Owner', 'admin'),
			('customer@example.com', 'Casey Customer', 'member')`,
	},
	"ecommerce": {
		`INSERT INTO products (sku, name, description, price_cents, currency, stock) VALUES
			('SKU-001', 'Classic Tee', 'A plain cotton tee.', 1999, 'USD', 120),
			('SKU-002', 'Canvas Tote', 'Sturdy everyday tote bag.', 2499, 'USD', 45),
			('SKU-003', 'Enamel Mug', 'Camping-style mug.', 1499, 'USD', 80)`,
		`INSERT INTO carts (user_id) VALUES (2)`,
		`INSERT INTO cart_items (cart_id, product_id, quantity) VALUES (1, 1, 2), (1, 3, 1)`,
		`INSERT INTO orders (user_id, status, total_cents) VALUES (2, 'paid', 5497)`,
	},
	"booking": {
		`INSERT INTO services (name, duration_min, price_cents) VALUES
			('Consultation', 30, 0),
			('Full Session', 60, 9900)`,
		`INSERT INTO bookings (service_id, user_id, status, starts_at) VALUES
			(1, 2, 'confirmed', now() + interval '1 day')`,
	},
	"helpdesk": {
		`INSERT INTO tickets (subject, status, priority, user_id) VALUES
			('Cannot log in', 'open', 'high', 2),
			('Feature question', 'solved', 'normal', 2)`,
		`INSERT INTO ticket_messages (ticket_id, author_id, body) VALUES
			(1, 2, 'I get an error when signing in.'),
			(1, 1, 'Thanks, we are looking into it.')`,
	},
	"crm": {
		`INSERT INTO contacts (email, full_name, company) VALUES
			('lead@example.org', 'Lee Lead', 'Example Org'),
			('buyer@example.net', 'Bobbie Buyer', 'Example Net')`,
		`INSERT INTO deals (contact_id, title, stage, value_cents) VALUES
			(1, 'Starter plan', 'lead', 49900),
			(2, 'Enterprise upgrade', 'negotiation', 499000)`,
	},
}

// seedStatements returns the statements for the selected features. The core
// module is always seeded; other modules only when selected. Order is
// stable so provisioning is deterministic, and unknown modules seed
// nothing.
func seedStatements(features []string) []string {
	selected := map[string]bool{"core": true}
	for _, feature := range features {
		selected[moduleOf(feature)] = true
	}

	var statements []string
	for _, module := range []string{"core", "ecommerce", "booking", "helpdesk", "crm"} {
		if selected[module] {
			statements = append(statements, moduleSeeds[module]...)
		}
	}
	return statements
}

// moduleOf returns the module prefix of a feature identifier.
func moduleOf(feature string) string {
	if i := strings.IndexByte(feature, '.'); i >= 0 {
		return feature[:i]
	}
	return feature
}

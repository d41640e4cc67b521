// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import "strings"

// featureRoute maps a URL prefix to the feature identifier required to
// reach it.
type featureRoute struct {
	prefix  string
	feature string
}

// featureRoutes is the static route map. The prefixes are disjoint, so
// match order does not matter. Paths not in the map are core and always
// allowed.
var featureRoutes = []featureRoute{
	{"/api/v1/ecommerce/products", "ecommerce.products"},
	{"/api/v1/ecommerce/cart", "ecommerce.cart"},
	{"/api/v1/ecommerce/orders", "ecommerce.orders"},
	{"/api/v1/booking/services", "booking.services"},
	{"/api/v1/booking/bookings", "booking.bookings"},
	{"/api/v1/helpdesk/tickets", "helpdesk.tickets"},
	{"/api/v1/crm/contacts", "crm.contacts"},
	{"/api/v1/crm/deals", "crm.deals"},
}

// requiredFeature returns the feature identifier a path demands, or "" when
// the path is core.
func requiredFeature(path string) string {
	for _, route := range featureRoutes {
		if strings.HasPrefix(path, route.prefix) {
			return route.feature
		}
	}
	return ""
}

// featureAllowed reports whether a session's feature selection admits the
// required feature. A sub-feature requirement is satisfied by the exact
// identifier or by the bare module grant; a sibling sub-feature never
// admits ("ecommerce.cart" does not unlock "ecommerce.products"). A bare
// module requirement is satisfied by the module itself or by any of its
// sub-features.
func featureAllowed(features []string, required string) bool {
	if required == "" {
		return true
	}
	module := required
	bare := true
	if i := strings.IndexByte(required, '.'); i >= 0 {
		module = required[:i]
		bare = false
	}

	for _, f := range features {
		if f == required || f == module {
			return true
		}
		if bare && strings.HasPrefix(f, module+".") {
			return true
		}
	}
	return false
}

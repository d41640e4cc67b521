// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// MockPaymentProvider succeeds every payment operation with synthetic
// identifiers. No network calls are made.
type MockPaymentProvider struct{}

// NewMockPaymentProvider creates a mock payment provider.
func NewMockPaymentProvider() *MockPaymentProvider {
	return &MockPaymentProvider{}
}

// CreateCheckoutSession returns a synthetic checkout session.
func (*MockPaymentProvider) CreateCheckoutSession(
	_ context.Context, amountCents int64, currency string,
) (CheckoutSession, error) {
	id := fmt.Sprintf("mock_checkout_%s", uuid.NewString())
	return CheckoutSession{
		ID:          id,
		URL:         fmt.Sprintf("https://checkout.invalid/%s", id),
		AmountCents: amountCents,
		Currency:    currency,
	}, nil
}

// ConfirmPayment returns a succeeded synthetic payment.
func (*MockPaymentProvider) ConfirmPayment(_ context.Context, checkoutID string) (Payment, error) {
	return Payment{
		ID:         fmt.Sprintf("mock_payment_%s", uuid.NewString()),
		CheckoutID: checkoutID,
		Status:     "succeeded",
	}, nil
}

// RefundPayment returns a succeeded synthetic refund.
func (*MockPaymentProvider) RefundPayment(_ context.Context, paymentID string) (Refund, error) {
	return Refund{
		ID:        fmt.Sprintf("mock_refund_%s", uuid.NewString()),
		PaymentID: paymentID,
		Status:    "succeeded",
	}, nil
}

var _ PaymentProvider = (*MockPaymentProvider)(nil)

// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sandbox defines the side-effect capabilities available to feature
// handlers, and the mock implementations substituted during preview.
//
// The interfaces are the only surface handlers see; in preview every request
// is bound to the mock set, so no real email, payment, or storage provider
// is ever reached.
package sandbox

import "context"

// EmailProvider sends transactional email.
type EmailProvider interface {
	// SendEmail sends a message and returns a provider message id. The
	// session token scopes recorded messages for later inspection.
	SendEmail(ctx context.Context, token, to, subject, body string) (string, error)

	// Template helpers for the well-known messages.
	SendWelcomeEmail(ctx context.Context, to string) (string, error)
	SendPasswordResetEmail(ctx context.Context, to, resetLink string) (string, error)
	SendVerificationEmail(ctx context.Context, to, verifyLink string) (string, error)
	SendPasswordChangedEmail(ctx context.Context, to string) (string, error)
}

// PaymentProvider processes payments.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, amountCents int64, currency string) (CheckoutSession, error)
	ConfirmPayment(ctx context.Context, checkoutID string) (Payment, error)
	RefundPayment(ctx context.Context, paymentID string) (Refund, error)
}

// StorageProvider stores uploaded files.
type StorageProvider interface {
	UploadFile(ctx context.Context, data []byte, name string) (StoredFile, error)
	GetSignedURL(ctx context.Context, key string) (string, error)
	DeleteFile(ctx context.Context, key string) error
}

// CheckoutSession is the result of starting a checkout.
type CheckoutSession struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
}

// Payment is the result of confirming a checkout.
type Payment struct {
	ID         string `json:"id"`
	CheckoutID string `json:"checkoutId"`
	Status     string `json:"status"`
}

// Refund is the result of refunding a payment.
type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
}

// StoredFile describes an uploaded file.
type StoredFile struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Providers bundles the capability set bound to each tenant request.
type Providers struct {
	Email   EmailProvider
	Payment PaymentProvider
	Storage StorageProvider
}

// NewMockProviders returns the provider set used in preview: every provider
// succeeds with synthetic identifiers and performs no outbound effect.
func NewMockProviders() *Providers {
	return &Providers{
		Email:   NewMockEmailProvider(),
		Payment: NewMockPaymentProvider(),
		Storage: NewMockStorageProvider(),
	}
}

// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecordedEmail is one message captured by the mock email provider.
type RecordedEmail struct {
	ID      string    `json:"id"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sentAt"`
}

// MockEmailProvider records sent mail in memory, scoped per session token.
// Template helpers return synthetic ids without recording, matching the
// production helpers which delegate to pre-rendered templates.
type MockEmailProvider struct {
	mu    sync.Mutex
	byTok map[string][]RecordedEmail
}

// NewMockEmailProvider creates an empty mock email provider.
func NewMockEmailProvider() *MockEmailProvider {
	return &MockEmailProvider{byTok: make(map[string][]RecordedEmail)}
}

func mockEmailID() string {
	return fmt.Sprintf("mock_email_%s", uuid.NewString())
}

// SendEmail records the message under the session token and returns a
// synthetic id. Appends are synchronised so concurrent handlers in the same
// session never lose entries.
func (p *MockEmailProvider) SendEmail(_ context.Context, token, to, subject, body string) (string, error) {
	id := mockEmailID()

	p.mu.Lock()
	p.byTok[token] = append(p.byTok[token], RecordedEmail{
		ID:      id,
		To:      to,
		Subject: subject,
		Body:    body,
		SentAt:  time.Now().UTC(),
	})
	p.mu.Unlock()

	return id, nil
}

// SendWelcomeEmail returns a synthetic id without recording.
func (*MockEmailProvider) SendWelcomeEmail(_ context.Context, _ string) (string, error) {
	return mockEmailID(), nil
}

// SendPasswordResetEmail returns a synthetic id without recording.
func (*MockEmailProvider) SendPasswordResetEmail(_ context.Context, _, _ string) (string, error) {
	return mockEmailID(), nil
}

// SendVerificationEmail returns a synthetic id without recording.
func (*MockEmailProvider) SendVerificationEmail(_ context.Context, _, _ string) (string, error) {
	return mockEmailID(), nil
}

// SendPasswordChangedEmail returns a synthetic id without recording.
func (*MockEmailProvider) SendPasswordChangedEmail(_ context.Context, _ string) (string, error) {
	return mockEmailID(), nil
}

// GetEmails returns a copy of the messages recorded for a session token.
func (p *MockEmailProvider) GetEmails(token string) []RecordedEmail {
	p.mu.Lock()
	defer p.mu.Unlock()

	recorded := p.byTok[token]
	out := make([]RecordedEmail, len(recorded))
	copy(out, recorded)
	return out
}

// ClearEmails discards the messages recorded for a session token.
func (p *MockEmailProvider) ClearEmails(token string) {
	p.mu.Lock()
	delete(p.byTok, token)
	p.mu.Unlock()
}

var _ EmailProvider = (*MockEmailProvider)(nil)

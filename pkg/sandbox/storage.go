// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"

	"github.com/google/uuid"
)

// MockStorageProvider returns synthetic URLs without persisting anything.
type MockStorageProvider struct{}

// NewMockStorageProvider creates a mock storage provider.
func NewMockStorageProvider() *MockStorageProvider {
	return &MockStorageProvider{}
}

// UploadFile returns a synthetic key and URL. The bytes are discarded.
func (*MockStorageProvider) UploadFile(_ context.Context, _ []byte, name string) (StoredFile, error) {
	key := fmt.Sprintf("mock/%s/%s", uuid.NewString(), path.Base(name))
	return StoredFile{
		Key: key,
		URL: syntheticURL(key),
	}, nil
}

// GetSignedURL returns a deterministic synthetic URL for the key, so
// repeated calls within a preview render the same link.
func (*MockStorageProvider) GetSignedURL(_ context.Context, key string) (string, error) {
	return syntheticURL(key), nil
}

// DeleteFile is a no-op.
func (*MockStorageProvider) DeleteFile(_ context.Context, _ string) error {
	return nil
}

func syntheticURL(key string) string {
	digest := sha256.Sum256([]byte(key))
	return fmt.Sprintf("https://storage.invalid/%s?sig=%s", key, hex.EncodeToString(digest[:8]))
}

var _ StorageProvider = (*MockStorageProvider)(nil)

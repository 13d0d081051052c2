// Package storage defines the blob sink contract shared by the snapshot file,
// the screenshot file, and the optional cloud mirror.
package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// BlobStore writes named objects and returns a URI for the written object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// MockBlobStore is a testify mock of BlobStore.
type MockBlobStore struct {
	mock.Mock
}

// PutObject records the call. The reader is drained so expectations can match on content.
func (m *MockBlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	args := m.Called(ctx, path, contentType, data)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

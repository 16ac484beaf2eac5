package gcsuploader

import (
	"context"
	"io"
)

// StorageService provides an interface for statement file storage.
// This interface enables mocking and testing of storage functionality.
type StorageService interface {
	// Upload stores r under a name derived from filename and returns its gs:// URI.
	Upload(ctx context.Context, filename, contentType string, r io.Reader) (string, error)

	// Fetch downloads the bytes behind a gs:// URI.
	Fetch(ctx context.Context, gcsURI string) ([]byte, error)
}

var _ StorageService = (*GCSStorageService)(nil)

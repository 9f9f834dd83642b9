package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to cold storage. PutMultipart is for payloads
// that may exceed a single request, such as audit exports.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader fetches archived objects back from cold storage.
type BlobReader interface {
	Get(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

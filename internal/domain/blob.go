package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is one listed object: an archive file or a ticket metadata
// document.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter stores ticket metadata and ledger archives. PutMultipart is for
// payloads too large for a single request.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads them back.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves old ledger events to cold storage.
type Archiver interface {
	ArchiveLedger(ctx context.Context, before time.Time) (int64, error)
}

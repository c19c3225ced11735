package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// PositionArchiver hands closed positions to cold storage.
type PositionArchiver interface {
	ArchivePosition(ctx context.Context, pos Position, closedAt time.Time) error
}

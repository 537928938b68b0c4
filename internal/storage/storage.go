// Package storage defines the artifact mirror the sink's archiver writes
// finalized CSV files through.
package storage

import (
	"context"
	"io"
)

// ArtifactStore persists one finalized menu artifact per object and
// returns a durable URI for the run report.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, object string, data io.Reader) (string, error)
}

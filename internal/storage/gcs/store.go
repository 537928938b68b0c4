// Package gcs mirrors finalized CSV artifacts to a Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Every object this store writes is a menu CSV artifact.
const artifactContentType = "text/csv"

// Store uploads artifacts to a fixed bucket and hands back gs:// URIs for
// the run report.
type Store struct {
	client *storage.Client
	bucket string
}

// NewStore builds a Store over an authenticated client.
func NewStore(client *storage.Client, bucket string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	return &Store{client: client, bucket: bucket}, nil
}

// PutArtifact streams one finalized artifact into the bucket. The object
// only becomes visible once the writer closes cleanly, so a failed upload
// never leaves a partial artifact behind.
func (s *Store) PutArtifact(ctx context.Context, object string, data io.Reader) (string, error) {
	if strings.TrimSpace(object) == "" {
		return "", fmt.Errorf("object name is required")
	}
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = artifactContentType
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload artifact %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize artifact %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}

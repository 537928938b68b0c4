package sink

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/verdata/dispensary-price-crawler/internal/storage"
)

// Archiver mirrors finalized CSV artifacts to an artifact store so each
// run's files survive the host the crawl ran on.
type Archiver struct {
	store  storage.ArtifactStore
	prefix string
}

// NewArchiver builds an Archiver writing under prefix.
func NewArchiver(store storage.ArtifactStore, prefix string) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if prefix == "" {
		prefix = "menus"
	}
	return &Archiver{store: store, prefix: prefix}, nil
}

// Archive uploads the finalized artifact at localPath and returns its URI.
func (a *Archiver) Archive(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	object := path.Join(a.prefix, filepath.Base(localPath))
	uri, err := a.store.PutArtifact(ctx, object, f)
	if err != nil {
		return "", fmt.Errorf("archive artifact: %w", err)
	}
	return uri, nil
}

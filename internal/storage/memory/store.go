// Package memory keeps uploaded artifacts in a map so tests can inspect
// what the archiver would have mirrored.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Store records artifacts in process memory and returns memory:// URIs.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// PutArtifact copies the artifact content and files it under object.
func (s *Store) PutArtifact(_ context.Context, object string, data io.Reader) (string, error) {
	content, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[object] = append([]byte(nil), content...)
	return fmt.Sprintf("memory://%s", object), nil
}

// Artifact returns the stored content for object.
func (s *Store) Artifact(object string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.objects[object]
	return content, ok
}

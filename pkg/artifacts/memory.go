package artifacts

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"
)

// Memory keeps artifacts in process memory. It backs tests and
// single-process deployments that have no object storage.
type Memory struct {
	bucket string

	mu      sync.RWMutex
	objects map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory(bucket string) *Memory {
	return &Memory{bucket: bucket, objects: make(map[string][]byte)}
}

func (s *Memory) EnsureBucket(_ context.Context) error { return nil }

func (s *Memory) Upload(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact '%s': %w", objectName, err)
	}
	s.mu.Lock()
	s.objects[objectName] = data
	s.mu.Unlock()
	return objectName, nil
}

func (s *Memory) PublicURL(objectName string) string {
	return "/" + path.Join("artifacts", s.bucket, objectName)
}

// Object returns a stored artifact's bytes.
func (s *Memory) Object(objectName string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[objectName]
	return data, ok
}

// Len reports how many artifacts are stored.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Package artifacts stores captured run artifacts (screenshots) in object
// storage and hands out retrieval URLs for them.
package artifacts

import (
	"context"
	"io"
)

// Store is the narrow contract the executor needs for screenshots.
type Store interface {
	// EnsureBucket guarantees the backing bucket exists. Idempotent;
	// called once at service startup, not per job.
	EnsureBucket(ctx context.Context) error
	// Upload writes one object and returns the object name it was
	// stored under.
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)
	// PublicURL returns the relative URL under which the object is
	// served. It does not touch the network.
	PublicURL(objectName string) string
}

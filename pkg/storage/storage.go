// Package storage persists run results and serves them to the polling
// read path.
package storage

import (
	"context"
	"errors"

	"github.com/scenarist/scenarist/pkg/models"
)

// ErrNotFound is returned when no result exists for the given run id.
var ErrNotFound = errors.New("result not found")

// ResultStore persists run results keyed by run id.
type ResultStore interface {
	// CreateResult saves the initial RUNNING record for a run under its
	// test id.
	CreateResult(ctx context.Context, testID string, result *models.Result) error

	// SaveResult upserts the record for result.ID, keeping the test id
	// it was created under.
	SaveResult(ctx context.Context, result *models.Result) error

	// GetResult retrieves the stored record for a run id, or ErrNotFound.
	GetResult(ctx context.Context, runID string) (*models.Result, error)

	// ListResultsByTest retrieves the stored records for a test id, most
	// recent first.
	ListResultsByTest(ctx context.Context, testID string) ([]models.Result, error)

	// Close releases any resources held by the store (e.g., DB connections).
	Close() error
}

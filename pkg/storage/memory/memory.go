// Package memory implements the storage.ResultStore contract in process,
// for tests and deployments without a database.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/scenarist/scenarist/pkg/models"
	"github.com/scenarist/scenarist/pkg/storage"
)

// Ensure Store implements storage.ResultStore at compile time.
var _ storage.ResultStore = (*Store)(nil)

// Store keeps run results in maps. Results are deep-copied on the way in
// and out so callers can keep mutating their own trees.
type Store struct {
	mu     sync.RWMutex
	runs   map[string]*models.Result
	byTest map[string][]string // test id -> run ids in creation order
}

// NewStore creates an empty in-memory result store.
func NewStore() *Store {
	return &Store{
		runs:   make(map[string]*models.Result),
		byTest: make(map[string][]string),
	}
}

func (s *Store) CreateResult(_ context.Context, testID string, result *models.Result) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("invalid result data for creating run record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[result.ID]; !exists && testID != "" {
		s.byTest[testID] = append(s.byTest[testID], result.ID)
	}
	s.runs[result.ID] = cloneResult(result)
	return nil
}

func (s *Store) SaveResult(_ context.Context, result *models.Result) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("cannot save result with empty run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[result.ID] = cloneResult(result)
	return nil
}

func (s *Store) GetResult(_ context.Context, runID string) (*models.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.runs[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneResult(result), nil
}

func (s *Store) ListResultsByTest(_ context.Context, testID string) ([]models.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runIDs := s.byTest[testID]
	results := make([]models.Result, 0, len(runIDs))
	// Most recent first.
	for i := len(runIDs) - 1; i >= 0; i-- {
		if result, ok := s.runs[runIDs[i]]; ok {
			results = append(results, *cloneResult(result))
		}
	}
	return results, nil
}

func (s *Store) Close() error { return nil }

func cloneResult(r *models.Result) *models.Result {
	clone := *r
	clone.StepResults = make([]models.StepResult, len(r.StepResults))
	copy(clone.StepResults, r.StepResults)
	for i := range clone.StepResults {
		sr := &clone.StepResults[i]
		sr.Logs = append([]models.LogEntry(nil), sr.Logs...)
		sr.Screenshots = append([]models.Screenshot(nil), sr.Screenshots...)
		if sr.Error != nil {
			fault := *sr.Error
			sr.Error = &fault
		}
	}
	return &clone
}

// Package postgres implements the storage.ResultStore contract on
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scenarist/scenarist/pkg/models"
	"github.com/scenarist/scenarist/pkg/storage"
)

// Ensure Store implements storage.ResultStore at compile time.
var _ storage.ResultStore = (*Store)(nil)

const (
	// One UPSERT serves both the initial create and every later save.
	// test_id is only known at create time, so updates keep the stored one.
	upsertRunSQL = `
		INSERT INTO scenario_runs (
			run_id, test_id, scenario_id, status, started_at, ended_at,
			step_results, summary, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, NOW()
		)
		ON CONFLICT (run_id) DO UPDATE SET
			test_id = COALESCE(EXCLUDED.test_id, scenario_runs.test_id),
			scenario_id = EXCLUDED.scenario_id,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			step_results = EXCLUDED.step_results,
			summary = EXCLUDED.summary,
			updated_at = NOW();
	`
	getRunSQL = `
		SELECT run_id, scenario_id, status, started_at, ended_at, step_results, summary
		FROM scenario_runs
		WHERE run_id = $1;
	`
	listRunsByTestSQL = `
		SELECT run_id, scenario_id, status, started_at, ended_at, step_results, summary
		FROM scenario_runs
		WHERE test_id = $1
		ORDER BY started_at DESC
		LIMIT 200;
	`

	// SQL for creating the table (for reference)
	/*
		-- Run this manually or via migrations after connecting to the DB:
		CREATE TABLE IF NOT EXISTS scenario_runs (
			run_id VARCHAR(36) PRIMARY KEY,           -- UUID
			test_id VARCHAR(255),
			scenario_id VARCHAR(255) NOT NULL,
			status VARCHAR(50) NOT NULL,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			step_results JSONB,
			summary JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_scenario_runs_test_id ON scenario_runs (test_id);
		CREATE INDEX IF NOT EXISTS idx_scenario_runs_status ON scenario_runs (status);
		CREATE INDEX IF NOT EXISTS idx_scenario_runs_started_at ON scenario_runs (started_at);
	*/
)

// Store implements storage.ResultStore using a pgx connection pool.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewStore connects to PostgreSQL and verifies the connection.
func NewStore(dsn string, logger *slog.Logger) (*Store, error) {
	dbpool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := dbpool.Ping(context.Background()); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	logger.Info("PostgreSQL connection pool established")
	return &Store{db: dbpool, logger: logger}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	s.logger.Info("Closing result store connections")
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// CreateResult saves the initial record for a run under its test id.
func (s *Store) CreateResult(ctx context.Context, testID string, result *models.Result) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("invalid result data for creating run record")
	}
	if err := s.upsert(ctx, sql.NullString{String: testID, Valid: testID != ""}, result); err != nil {
		return err
	}
	s.logger.Info("Saved initial run record",
		slog.String("run_id", result.ID),
		slog.String("test_id", testID))
	return nil
}

// SaveResult upserts the record for result.ID, leaving its test id alone.
func (s *Store) SaveResult(ctx context.Context, result *models.Result) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("cannot save result with empty run id")
	}
	if err := s.upsert(ctx, sql.NullString{}, result); err != nil {
		return err
	}
	s.logger.Info("Saved run result",
		slog.String("run_id", result.ID),
		slog.String("status", result.Status))
	return nil
}

func (s *Store) upsert(ctx context.Context, testID sql.NullString, result *models.Result) error {
	stepResultsJSON, err := json.Marshal(result.StepResults)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}
	summaryJSON, err := json.Marshal(result.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	_, err = s.db.Exec(ctx, upsertRunSQL,
		result.ID,
		testID,
		result.ScenarioID,
		result.Status,
		sql.NullTime{Time: result.StartedAt, Valid: !result.StartedAt.IsZero()},
		sql.NullTime{Time: result.EndedAt, Valid: !result.EndedAt.IsZero()},
		stepResultsJSON,
		summaryJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to execute upsert for run %s: %w", result.ID, err)
	}
	return nil
}

// GetResult retrieves the stored record for a run id.
func (s *Store) GetResult(ctx context.Context, runID string) (*models.Result, error) {
	row := s.db.QueryRow(ctx, getRunSQL, runID)
	result, err := scanResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query result for run %s: %w", runID, err)
	}
	return result, nil
}

// ListResultsByTest retrieves the stored records for a test id.
func (s *Store) ListResultsByTest(ctx context.Context, testID string) ([]models.Result, error) {
	rows, err := s.db.Query(ctx, listRunsByTestSQL, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results for test %s: %w", testID, err)
	}
	defer rows.Close()

	results := []models.Result{}
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			s.logger.Error("Failed to scan run row", slog.String("error", err.Error()))
			continue
		}
		results = append(results, *result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return results, nil
}

// scanResult reads one run row, unpacking the JSONB columns.
func scanResult(row pgx.Row) (*models.Result, error) {
	result := &models.Result{}
	var startedAt, endedAt sql.NullTime
	var stepResultsJSON, summaryJSON []byte

	err := row.Scan(
		&result.ID, &result.ScenarioID, &result.Status,
		&startedAt, &endedAt, &stepResultsJSON, &summaryJSON,
	)
	if err != nil {
		return nil, err
	}

	result.StartedAt = startedAt.Time
	result.EndedAt = endedAt.Time
	if len(stepResultsJSON) > 0 && string(stepResultsJSON) != "null" {
		if err := json.Unmarshal(stepResultsJSON, &result.StepResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step results for run %s: %w", result.ID, err)
		}
	}
	if len(summaryJSON) > 0 && string(summaryJSON) != "null" {
		if err := json.Unmarshal(summaryJSON, &result.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary for run %s: %w", result.ID, err)
		}
	}
	return result, nil
}

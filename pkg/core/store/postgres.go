package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"fintable/pkg/models"
)

// PostgresDecisionSink writes decision records to a Postgres table.
//
//	CREATE TABLE IF NOT EXISTS column_decisions (
//	  id TEXT PRIMARY KEY,
//	  run_id TEXT NOT NULL,
//	  ...
//	  record JSONB NOT NULL
//	);
type PostgresDecisionSink struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS column_decisions (
	id                   TEXT PRIMARY KEY,
	run_id               TEXT NOT NULL,
	decided_at           TIMESTAMPTZ NOT NULL,
	kind                 TEXT NOT NULL,
	page                 INTEGER NOT NULL,
	line                 INTEGER NOT NULL,
	choice               TEXT NOT NULL,
	provenance           TEXT NOT NULL,
	heuristic_confidence DOUBLE PRECISION,
	model_confidence     DOUBLE PRECISION,
	record               JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS column_decisions_run_idx ON column_decisions (run_id);
`

// NewPostgresDecisionSink creates the decisions table if needed. The pool is
// owned by the caller.
func NewPostgresDecisionSink(ctx context.Context, pool *pgxpool.Pool) (*PostgresDecisionSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("failed to create column_decisions: %w", err)
	}
	return &PostgresDecisionSink{pool: pool}, nil
}

func (s *PostgresDecisionSink) Write(ctx context.Context, rec models.DecisionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	query := `
		INSERT INTO column_decisions
			(id, run_id, decided_at, kind, page, line, choice, provenance,
			 heuristic_confidence, model_confidence, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.RunID, rec.Timestamp, string(rec.Kind), rec.Page, rec.Line,
		rec.Choice, string(rec.Provenance), rec.HeuristicConfidence, rec.ModelConfidence, data)
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// Records loads decisions in time order. An empty runID loads every run.
func (s *PostgresDecisionSink) Records(ctx context.Context, runID string) ([]models.DecisionRecord, error) {
	query := `SELECT record FROM column_decisions WHERE ($1 = '' OR run_id = $1) ORDER BY decided_at, id`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load decisions: %w", err)
	}
	defer rows.Close()

	var out []models.DecisionRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec models.DecisionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

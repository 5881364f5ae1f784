package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"fintable/pkg/models"
)

// SQLiteDecisionSink writes decision records to a local SQLite file.
type SQLiteDecisionSink struct {
	db   *sql.DB
	path string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS column_decisions (
	id                   TEXT PRIMARY KEY,
	run_id               TEXT NOT NULL,
	decided_at           TEXT NOT NULL,
	kind                 TEXT NOT NULL,
	page                 INTEGER NOT NULL,
	line                 INTEGER NOT NULL,
	choice               TEXT NOT NULL,
	provenance           TEXT NOT NULL,
	heuristic_confidence REAL,
	model_confidence     REAL,
	record               TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS column_decisions_run_idx ON column_decisions (run_id);
`

// OpenSQLiteDecisionSink opens or creates the database at path.
func OpenSQLiteDecisionSink(path string) (*SQLiteDecisionSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// WAL mode so concurrent parses can append
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating column_decisions: %w", err)
	}
	return &SQLiteDecisionSink{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteDecisionSink) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteDecisionSink) Close() error { return s.db.Close() }

func (s *SQLiteDecisionSink) Write(ctx context.Context, rec models.DecisionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling decision: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO column_decisions
			(id, run_id, decided_at, kind, page, line, choice, provenance,
			 heuristic_confidence, model_confidence, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Timestamp.UTC().Format(time.RFC3339Nano), string(rec.Kind),
		rec.Page, rec.Line, rec.Choice, string(rec.Provenance),
		rec.HeuristicConfidence, rec.ModelConfidence, string(data))
	if err != nil {
		return fmt.Errorf("inserting decision: %w", err)
	}
	return nil
}

// Records loads decisions in time order. An empty runID loads every run.
func (s *SQLiteDecisionSink) Records(ctx context.Context, runID string) ([]models.DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM column_decisions WHERE (? = '' OR run_id = ?) ORDER BY decided_at, rowid`,
		runID, runID)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer rows.Close()

	var out []models.DecisionRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		var rec models.DecisionRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("unmarshalling decision: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

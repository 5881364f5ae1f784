package reconcile

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"fintable/pkg/models"
)

// Sink persists decision records outside the process.
type Sink interface {
	Write(ctx context.Context, rec models.DecisionRecord) error
}

// DecisionLog is the append-only decision record of one parse.
type DecisionLog struct {
	mu      sync.Mutex
	runID   string
	entries []models.DecisionRecord
	sinks   []Sink
	now     func() time.Time
	logger  *slog.Logger
}

// NewDecisionLog returns an empty log for runID that fans every entry out to sinks.
func NewDecisionLog(runID string, logger *slog.Logger, sinks ...Sink) *DecisionLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionLog{
		runID:  runID,
		sinks:  sinks,
		now:    time.Now,
		logger: logger.With("component", "decision_log"),
	}
}

// Append stamps rec with an ID, the run ID and a timestamp, keeps it and
// writes it to every sink. The in-memory entry is kept even when a sink fails.
func (l *DecisionLog) Append(ctx context.Context, rec models.DecisionRecord) error {
	l.mu.Lock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RunID == "" {
		rec.RunID = l.runID
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	l.entries = append(l.entries, rec)
	sinks := l.sinks
	l.mu.Unlock()

	l.logger.Debug("decision.append", "id", rec.ID, "choice", rec.Choice, "provenance", rec.Provenance)

	var errs []error
	for _, s := range sinks {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Entries returns a copy of the records appended so far, in order.
func (l *DecisionLog) Entries() []models.DecisionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.DecisionRecord, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of records.
func (l *DecisionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// =============================================================================
// JSONL SINK
// =============================================================================

// JSONLSink appends one JSON object per line to a file.
type JSONLSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenJSONLSink opens (creating if needed) path for appending.
func OpenJSONLSink(path string) (*JSONLSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create decision log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	return &JSONLSink{f: f, path: path}, nil
}

func (s *JSONLSink) Write(_ context.Context, rec models.DecisionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// ReadJSONL loads every record from a JSONL decision log.
func ReadJSONL(path string) ([]models.DecisionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []models.DecisionRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec models.DecisionRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

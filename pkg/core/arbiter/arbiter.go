// Package arbiter supplies the second opinion consulted when heuristic
// column-role inference is not confident enough.
package arbiter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"fintable/pkg/models"
)

// Candidate is a proposed schema with the proposer's confidence.
type Candidate struct {
	Schema     models.RowSchema
	Confidence float64
	Rationale  string
}

// Arbiter proposes a column-role mapping for a single row.
// A nil candidate with a nil error means "no opinion".
type Arbiter interface {
	Classify(ctx context.Context, row models.Row) (*Candidate, error)
}

// RowContext carries statement context that a row alone does not hold.
type RowContext struct {
	Kind   models.StatementKind
	Header []string // cells of the last header row on the page, if any
}

type rowContextKey struct{}

// WithRowContext attaches rc to ctx for the arbiter call.
func WithRowContext(ctx context.Context, rc RowContext) context.Context {
	return context.WithValue(ctx, rowContextKey{}, rc)
}

// RowContextFrom returns the RowContext stored in ctx.
func RowContextFrom(ctx context.Context) RowContext {
	if rc, ok := ctx.Value(rowContextKey{}).(RowContext); ok {
		return rc
	}
	return RowContext{Kind: models.KindUnknown}
}

// RowKey identifies a row by its cell texts. A null cell keys like an empty
// one, matching how decision records store cells.
func RowKey(cells []string) string {
	var b strings.Builder
	for i, c := range cells {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(c)
	}
	return b.String()
}

// =============================================================================
// STATIC ARBITER
// =============================================================================

// StaticArbiter answers from a fixed table keyed by row cells.
type StaticArbiter struct {
	mu       sync.Mutex
	answers  map[string]*Candidate
	errs     map[string]error
	fallback *Candidate
	calls    int
}

// NewStaticArbiter returns an arbiter with no answers; every row gets no opinion
// until Set or SetDefault is called.
func NewStaticArbiter() *StaticArbiter {
	return &StaticArbiter{
		answers: make(map[string]*Candidate),
		errs:    make(map[string]error),
	}
}

// Set registers the mapping returned for rows with these cells.
func (s *StaticArbiter) Set(cells []string, roles map[models.ColumnRole]int, confidence float64) *StaticArbiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[RowKey(cells)] = &Candidate{
		Schema: models.RowSchema{
			Roles:      roles,
			Provenance: models.ProvenanceModel,
			Confidence: confidence,
			Columns:    len(cells),
		},
		Confidence: confidence,
	}
	return s
}

// Fail makes the arbiter return err for rows with these cells.
func (s *StaticArbiter) Fail(cells []string, err error) *StaticArbiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[RowKey(cells)] = err
	return s
}

// SetDefault registers the candidate returned for rows without an entry.
func (s *StaticArbiter) SetDefault(roles map[models.ColumnRole]int, confidence float64) *StaticArbiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &Candidate{
		Schema:     models.RowSchema{Roles: roles, Provenance: models.ProvenanceModel, Confidence: confidence},
		Confidence: confidence,
	}
	return s
}

// Calls reports how many rows were classified.
func (s *StaticArbiter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StaticArbiter) Classify(ctx context.Context, row models.Row) (*Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	k := RowKey(row.Texts())
	if err, ok := s.errs[k]; ok {
		return nil, err
	}
	c, ok := s.answers[k]
	if !ok {
		c = s.fallback
	}
	if c == nil {
		return nil, nil
	}
	out := *c
	out.Schema = c.Schema.Clone()
	out.Schema.Columns = row.Len()
	return &out, nil
}

// =============================================================================
// REPLAY ARBITER
// =============================================================================

// ReplayArbiter answers with the model opinions recorded in a previous
// decision log, so a run can be reproduced without calling a model.
type ReplayArbiter struct {
	answers map[string]models.DecisionRecord
}

// NewReplayArbiter indexes records by their row cells. Later records win.
func NewReplayArbiter(records []models.DecisionRecord) *ReplayArbiter {
	r := &ReplayArbiter{answers: make(map[string]models.DecisionRecord, len(records))}
	for _, rec := range records {
		r.answers[RowKey(rec.Cells)] = rec
	}
	return r
}

// Len returns the number of replayable rows.
func (r *ReplayArbiter) Len() int { return len(r.answers) }

func (r *ReplayArbiter) Classify(ctx context.Context, row models.Row) (*Candidate, error) {
	rec, ok := r.answers[RowKey(row.Texts())]
	if !ok || len(rec.Model) == 0 {
		return nil, nil
	}
	schema := models.SchemaFromIntMap(rec.Model)
	if err := schema.Validate(row.Len()); err != nil {
		return nil, fmt.Errorf("replay %d:%d: %w", rec.Page, rec.Line, err)
	}
	schema.Provenance = models.ProvenanceModel
	schema.Confidence = rec.ModelConfidence
	schema.Columns = row.Len()
	return &Candidate{Schema: schema, Confidence: rec.ModelConfidence, Rationale: rec.Rationale}, nil
}

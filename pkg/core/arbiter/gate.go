package arbiter

import (
	"context"
	"fmt"
	"log/slog"

	"fintable/pkg/models"
)

const (
	DefaultThreshold      = 0.7
	DefaultHighConfidence = 0.9
)

// Gate decides when the arbiter is consulted and shields the caller from its
// failures.
type Gate struct {
	Threshold      float64
	HighConfidence float64
	Arbiter        Arbiter
	logger         *slog.Logger
}

// NewGate returns a gate with default thresholds. a may be nil, in which case
// the gate never consults.
func NewGate(a Arbiter, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		Threshold:      DefaultThreshold,
		HighConfidence: DefaultHighConfidence,
		Arbiter:        a,
		logger:         logger.With("component", "gate"),
	}
}

// ShouldConsult reports whether heuristic schema h warrants a second opinion.
// After a cache invalidation the bar is raised to HighConfidence.
func (g *Gate) ShouldConsult(h models.RowSchema, cacheInvalidated bool) bool {
	if g == nil || g.Arbiter == nil {
		return false
	}
	if h.Confidence < g.Threshold {
		return true
	}
	return cacheInvalidated && h.Confidence < g.HighConfidence
}

// Consult asks the arbiter about row. Any failure yields nil ("no model
// opinion") and a log line; Consult never returns an error.
func (g *Gate) Consult(ctx context.Context, row models.Row) (c *Candidate) {
	if g == nil || g.Arbiter == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			g.noOpinion(row, fmt.Errorf("arbiter panic: %v", r))
			c = nil
		}
	}()

	cand, err := g.Arbiter.Classify(ctx, row)
	if err != nil {
		g.noOpinion(row, err)
		return nil
	}
	if cand == nil {
		g.noOpinion(row, nil)
		return nil
	}
	cand.Schema.Columns = row.Len()
	if err := cand.Schema.Validate(row.Len()); err != nil {
		g.noOpinion(row, err)
		return nil
	}
	cand.Schema.Provenance = models.ProvenanceModel
	return cand
}

func (g *Gate) noOpinion(row models.Row, err error) {
	args := []any{"page", row.Page, "line", row.Line}
	if err != nil {
		args = append(args, "error", err)
	}
	g.logger.Info("arbiter.no_opinion", args...)
}

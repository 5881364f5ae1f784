// Package reconcile settles disagreements between heuristic and model
// column-role mappings and keeps an append-only record of every decision.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fintable/pkg/core/arbiter"
	"fintable/pkg/models"
)

// ErrNoDecision is returned by a DecisionProvider that could not obtain an answer.
var ErrNoDecision = errors.New("no decision")

// Choice is the answer to a conflict.
type Choice string

const (
	ChoiceHeuristic Choice = "heuristic"
	ChoiceModel     Choice = "model"
	ChoiceSkip      Choice = "skip"
)

// ParseChoice accepts the config spellings of a choice.
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heuristic", "prefer_heuristic", "rules", "rule":
		return ChoiceHeuristic, nil
	case "model", "prefer_model", "llm":
		return ChoiceModel, nil
	case "skip":
		return ChoiceSkip, nil
	}
	return "", fmt.Errorf("unknown choice %q", s)
}

// Policy controls how conflicts are settled.
type Policy struct {
	AutoAcceptOnMatch bool
	Default           Choice        // used with no provider, or on timeout, error or skip
	DecisionTimeout   time.Duration // 0 waits for the provider indefinitely
}

// DefaultPolicy prefers the heuristic and accepts agreement without asking.
func DefaultPolicy() Policy {
	return Policy{AutoAcceptOnMatch: true, Default: ChoiceHeuristic, DecisionTimeout: 5 * time.Minute}
}

// Conflict is what a DecisionProvider is asked to settle.
type Conflict struct {
	Row             models.Row
	Kind            models.StatementKind
	Heuristic       models.RowSchema
	Model           models.RowSchema
	ModelConfidence float64
	ModelRationale  string
	Differences     []Difference
}

// DecisionProvider answers conflicts, typically by asking a person.
type DecisionProvider interface {
	Decide(ctx context.Context, c Conflict) (Choice, error)
}

// FuncProvider adapts a function to DecisionProvider.
type FuncProvider func(ctx context.Context, c Conflict) (Choice, error)

func (f FuncProvider) Decide(ctx context.Context, c Conflict) (Choice, error) { return f(ctx, c) }

// Reconciler commits one schema per row from a heuristic schema and an
// optional model candidate.
type Reconciler struct {
	policy   Policy
	provider DecisionProvider
	log      *DecisionLog
	logger   *slog.Logger
}

// New returns a reconciler writing decisions to log. provider may be nil.
func New(policy Policy, provider DecisionProvider, log *DecisionLog, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.Default != ChoiceModel {
		policy.Default = ChoiceHeuristic
	}
	if log == nil {
		log = NewDecisionLog("", logger)
	}
	return &Reconciler{
		policy:   policy,
		provider: provider,
		log:      log,
		logger:   logger.With("component", "reconciler"),
	}
}

// Log returns the decision log the reconciler appends to.
func (r *Reconciler) Log() *DecisionLog { return r.log }

// Reconcile returns the schema to commit for row. h must be a valid schema
// for the row; the returned schema always is.
func (r *Reconciler) Reconcile(ctx context.Context, row models.Row, h models.RowSchema, m *arbiter.Candidate) (models.RowSchema, error) {
	if err := h.Validate(row.Len()); err != nil {
		return models.RowSchema{}, fmt.Errorf("heuristic schema for %d:%d: %w", row.Page, row.Line, err)
	}
	h = h.Clone()
	h.Columns = row.Len()

	if m == nil {
		h.Provenance = models.ProvenanceHeuristic
		return h, nil
	}

	agree := h.Equal(m.Schema)
	if agree && (r.policy.AutoAcceptOnMatch || r.provider == nil) {
		h.Provenance = models.ProvenanceReconciled
		h.Confidence = max(h.Confidence, m.Confidence)
		return h, nil
	}

	c := Conflict{
		Row:             row,
		Kind:            arbiter.RowContextFrom(ctx).Kind,
		Heuristic:       h,
		Model:           m.Schema,
		ModelConfidence: m.Confidence,
		ModelRationale:  m.Rationale,
		Differences:     Diff(row, h, m.Schema),
	}

	choice, prov := r.decide(ctx, c)
	chosen := r.apply(row, c, m, choice)
	if choice == ChoiceModel && chosen.Equal(h) && !agree {
		// model map was unusable; apply fell back to the heuristic
		choice = ChoiceHeuristic
	}
	if agree {
		chosen.Confidence = max(h.Confidence, m.Confidence)
	}
	chosen.Provenance = prov

	rec := models.DecisionRecord{
		Kind:                c.Kind,
		Page:                row.Page,
		Line:                row.Line,
		Cells:               row.Texts(),
		Heuristic:           h.IntMap(),
		Model:               m.Schema.IntMap(),
		Chosen:              chosen.IntMap(),
		HeuristicConfidence: h.Confidence,
		ModelConfidence:     m.Confidence,
		Rationale:           m.Rationale,
		Choice:              string(choice),
		Provenance:          prov,
	}
	if err := r.log.Append(ctx, rec); err != nil {
		r.logger.Warn("reconcile.log_failed", "page", row.Page, "line", row.Line, "error", err)
	}
	return chosen, nil
}

// decide asks the provider, falling back to the policy default.
func (r *Reconciler) decide(ctx context.Context, c Conflict) (Choice, models.Provenance) {
	if r.provider == nil {
		r.logger.Info("reconcile.default", "page", c.Row.Page, "line", c.Row.Line,
			"choice", r.policy.Default, "differences", len(c.Differences))
		return r.policy.Default, models.ProvenanceReconciledDefault
	}

	dctx := ctx
	if r.policy.DecisionTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, r.policy.DecisionTimeout)
		defer cancel()
	}

	choice, err := r.provider.Decide(dctx, c)
	switch {
	case err != nil:
		r.logger.Warn("reconcile.default", "page", c.Row.Page, "line", c.Row.Line,
			"choice", r.policy.Default, "error", err)
		return r.policy.Default, models.ProvenanceReconciledDefault
	case choice == ChoiceHeuristic || choice == ChoiceModel:
		return choice, models.ProvenanceUserChosen
	default:
		r.logger.Info("reconcile.default", "page", c.Row.Page, "line", c.Row.Line,
			"choice", r.policy.Default, "answer", choice)
		return r.policy.Default, models.ProvenanceReconciledDefault
	}
}

// apply turns a choice into a schema, refusing a model map that does not fit the row.
func (r *Reconciler) apply(row models.Row, c Conflict, m *arbiter.Candidate, choice Choice) models.RowSchema {
	if choice != ChoiceModel {
		return c.Heuristic.Clone()
	}
	s := m.Schema.Clone()
	s.Columns = row.Len()
	s.Confidence = m.Confidence
	if err := s.Validate(row.Len()); err != nil || s.Empty() {
		r.logger.Warn("reconcile.model_rejected", "page", row.Page, "line", row.Line, "error", err)
		return c.Heuristic.Clone()
	}
	return s
}

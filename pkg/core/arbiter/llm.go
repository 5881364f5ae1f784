package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fintable/pkg/core/llm"
	"fintable/pkg/core/prompt"
	"fintable/pkg/core/utils"
	"fintable/pkg/models"
)

// ErrMalformedReply is returned when a model reply cannot be turned into a
// usable column map.
var ErrMalformedReply = errors.New("malformed arbiter reply")

// defaultModelConfidence is assumed when a reply omits its confidence.
const defaultModelConfidence = 0.5

// LLMOptions configures an LLMArbiter.
type LLMOptions struct {
	Timeout       time.Duration // per attempt; 0 means 30s
	MaxRetries    int           // extra attempts after a transport failure
	RatePerMinute int           // 0 means unlimited
	Logger        *slog.Logger
}

// LLMArbiter asks a language model which column holds which role.
type LLMArbiter struct {
	provider llm.Provider
	prompt   *prompt.Template
	schema   *prompt.Schema
	limiter  *rate.Limiter
	timeout  time.Duration
	retries  int
	logger   *slog.Logger
}

// NewLLMArbiter resolves the column-roles prompt and its response schema from
// the registry.
func NewLLMArbiter(p llm.Provider, reg *prompt.Registry, opts LLMOptions) (*LLMArbiter, error) {
	if p == nil {
		return nil, fmt.Errorf("arbiter: nil provider")
	}
	pt, err := reg.Prompt(prompt.ColumnRolesID)
	if err != nil {
		return nil, fmt.Errorf("arbiter: %w", err)
	}
	rs, err := reg.SchemaFor(pt)
	if err != nil {
		return nil, fmt.Errorf("arbiter: %w", err)
	}

	limit := rate.Inf
	if opts.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RatePerMinute))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &LLMArbiter{
		provider: p,
		prompt:   pt,
		schema:   rs,
		limiter:  rate.NewLimiter(limit, 1),
		timeout:  opts.Timeout,
		retries:  opts.MaxRetries,
		logger:   logger.With("component", "arbiter"),
	}, nil
}

// columnRolesReply is the JSON object the prompt asks for.
type columnRolesReply struct {
	ColumnMap  map[string]*int `json:"column_map"`
	Confidence *float64        `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

func (a *LLMArbiter) Classify(ctx context.Context, row models.Row) (*Candidate, error) {
	rc := RowContextFrom(ctx)
	userPrompt, err := a.prompt.Render(prompt.Vars{
		"Kind":    string(rc.Kind),
		"Cells":   row.Texts(),
		"Context": strings.Join(rc.Header, " | "),
	})
	if err != nil {
		return nil, err
	}

	raw, err := a.generate(ctx, userPrompt)
	if err != nil {
		return nil, err
	}
	return a.parse(raw, row)
}

// generate calls the provider with pacing, a per-attempt timeout and bounded
// retries on transport errors.
func (a *LLMArbiter) generate(ctx context.Context, userPrompt string) (string, error) {
	system := a.provider.AdaptInstructions(a.prompt.System)
	var lastErr error
	for attempt := 0; attempt <= a.retries; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", err
		}
		actx, cancel := context.WithTimeout(ctx, a.timeout)
		raw, err := a.provider.GenerateResponse(actx, userPrompt, system, map[string]interface{}{"json": true})
		cancel()
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		a.logger.Debug("arbiter.retry", "attempt", attempt+1, "error", err)
	}
	return "", fmt.Errorf("arbiter: %d attempts failed: %w", a.retries+1, lastErr)
}

func (a *LLMArbiter) parse(raw string, row models.Row) (*Candidate, error) {
	body := utils.ExtractCodeBlock(raw)

	var reply columnRolesReply
	clean, stage, err := utils.Decode(body, &reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if stage != utils.StageStrict {
		a.logger.Debug("arbiter.reply_repaired", "stage", stage)
	}
	if err := a.schema.Check([]byte(clean)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	schema, err := schemaFromReply(reply.ColumnMap, row.Len())
	if err != nil {
		return nil, err
	}

	conf := defaultModelConfidence
	if reply.Confidence != nil {
		conf = *reply.Confidence
	}
	schema.Provenance = models.ProvenanceModel
	schema.Confidence = conf
	schema.Rationale = reply.Reasoning
	return &Candidate{Schema: schema, Confidence: conf, Rationale: reply.Reasoning}, nil
}

// schemaFromReply maps the reply's role names onto a schema for a row of the
// given width. Null entries mean the model found no such column.
func schemaFromReply(m map[string]*int, columns int) (models.RowSchema, error) {
	schema := models.RowSchema{Roles: make(map[models.ColumnRole]int, len(m)), Columns: columns}
	for name, idx := range m {
		role := models.ParseRole(name)
		if role == models.RoleUnknown {
			return schema, fmt.Errorf("%w: unknown role %q", ErrMalformedReply, name)
		}
		if idx == nil {
			continue
		}
		if _, dup := schema.Roles[role]; dup {
			return schema, fmt.Errorf("%w: role %s given twice", ErrMalformedReply, role)
		}
		schema.Roles[role] = *idx
	}
	if schema.Empty() {
		return schema, fmt.Errorf("%w: empty column map", ErrMalformedReply)
	}
	if err := schema.Validate(columns); err != nil {
		return schema, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return schema, nil
}

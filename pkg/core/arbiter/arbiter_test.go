package arbiter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintable/pkg/core/prompt"
	"fintable/pkg/models"
)

type fakeProvider struct {
	replies []string
	errs    []error
	calls   atomic.Int32
	last    string
}

func (f *fakeProvider) GenerateResponse(ctx context.Context, p, system string, options map[string]interface{}) (string, error) {
	i := int(f.calls.Add(1)) - 1
	f.last = p
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return f.replies[len(f.replies)-1], nil
}

func (f *fakeProvider) AdaptInstructions(s string) string { return s }

func newArbiter(t *testing.T, p *fakeProvider, retries int) *LLMArbiter {
	t.Helper()
	reg, err := prompt.Default()
	require.NoError(t, err)
	a, err := NewLLMArbiter(p, reg, LLMOptions{MaxRetries: retries, Timeout: time.Second})
	require.NoError(t, err)
	return a
}

var bsRow = models.NewRow(1, 3, "货币资金", "七、1", "1,000.00", "800.00")

func TestLLMArbiterParsesFencedReply(t *testing.T) {
	p := &fakeProvider{replies: []string{"Sure.\n```json\n" +
		`{"column_map": {"item_name": 0, "note": 1, "current_period": 2, "previous_period": 3}, "confidence": 0.92, "reasoning": "labels then amounts"}` +
		"\n```"}}
	a := newArbiter(t, p, 0)

	ctx := WithRowContext(context.Background(), RowContext{Kind: models.KindBalanceSheet})
	c, err := a.Classify(ctx, bsRow)
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, 0.92, c.Confidence)
	assert.Equal(t, models.ProvenanceModel, c.Schema.Provenance)
	assert.Equal(t, map[models.ColumnRole]int{
		models.RoleItemName: 0, models.RoleFootnote: 1, models.RoleCurrent: 2, models.RolePrevious: 3,
	}, c.Schema.Roles)
	assert.Contains(t, p.last, "balance_sheet")
	assert.Contains(t, p.last, "Column count: 4")
}

func TestLLMArbiterLenientReply(t *testing.T) {
	p := &fakeProvider{replies: []string{`{column_map: {item_name: 0, current: 2, previous: 3, note: null}, confidence: 0.8,}`}}
	a := newArbiter(t, p, 0)

	c, err := a.Classify(context.Background(), bsRow)
	require.NoError(t, err)
	assert.False(t, c.Schema.Has(models.RoleFootnote))
	assert.Equal(t, 2, c.Schema.Roles[models.RoleCurrent])
}

func TestLLMArbiterRejects(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"collision", `{"column_map": {"current_period": 2, "previous_period": 2}}`},
		{"out of range", `{"column_map": {"item_name": 0, "current_period": 9}}`},
		{"negative", `{"column_map": {"item_name": -1}}`},
		{"unknown role", `{"column_map": {"amount": 2}}`},
		{"empty", `{"column_map": {}}`},
		{"missing map", `{"confidence": 0.9}`},
		{"confidence range", `{"column_map": {"item_name": 0}, "confidence": 3}`},
		{"prose", `I cannot tell which column is which.`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newArbiter(t, &fakeProvider{replies: []string{tt.reply}}, 0)
			c, err := a.Classify(context.Background(), bsRow)
			assert.Nil(t, c)
			assert.Error(t, err)
		})
	}
}

func TestLLMArbiterDefaultConfidence(t *testing.T) {
	a := newArbiter(t, &fakeProvider{replies: []string{`{"column_map": {"item_name": 0, "current_period": 2}}`}}, 0)
	c, err := a.Classify(context.Background(), bsRow)
	require.NoError(t, err)
	assert.Equal(t, defaultModelConfidence, c.Confidence)
}

func TestLLMArbiterRetries(t *testing.T) {
	boom := errors.New("OPENAI_API_ERROR: status=503")
	p := &fakeProvider{
		errs:    []error{boom, nil},
		replies: []string{"", `{"column_map": {"item_name": 0, "current_period": 2}}`},
	}
	c, err := newArbiter(t, p, 1).Classify(context.Background(), bsRow)
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.EqualValues(t, 2, p.calls.Load())

	p = &fakeProvider{errs: []error{boom, boom}, replies: []string{""}}
	_, err = newArbiter(t, p, 1).Classify(context.Background(), bsRow)
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestGateShouldConsult(t *testing.T) {
	g := NewGate(NewStaticArbiter(), nil)
	tests := []struct {
		conf        float64
		invalidated bool
		want        bool
	}{
		{0.65, false, true},
		{0.7, false, false},
		{1.0, false, false},
		{0.85, true, true},
		{0.95, true, false},
	}
	for _, tt := range tests {
		got := g.ShouldConsult(models.RowSchema{Confidence: tt.conf}, tt.invalidated)
		assert.Equal(t, tt.want, got, "conf=%v invalidated=%v", tt.conf, tt.invalidated)
	}

	assert.False(t, NewGate(nil, nil).ShouldConsult(models.RowSchema{Confidence: 0.1}, true))
}

type panicArbiter struct{}

func (panicArbiter) Classify(context.Context, models.Row) (*Candidate, error) { panic("boom") }

func TestGateConsultNoOpinion(t *testing.T) {
	ctx := context.Background()
	cells := bsRow.Texts()

	failing := NewStaticArbiter().Fail(cells, context.DeadlineExceeded)
	assert.Nil(t, NewGate(failing, nil).Consult(ctx, bsRow))

	colliding := NewStaticArbiter().Set(cells, map[models.ColumnRole]int{
		models.RoleCurrent: 2, models.RolePrevious: 2,
	}, 0.9)
	assert.Nil(t, NewGate(colliding, nil).Consult(ctx, bsRow))

	assert.Nil(t, NewGate(NewStaticArbiter(), nil).Consult(ctx, bsRow))
	assert.Nil(t, NewGate(panicArbiter{}, nil).Consult(ctx, bsRow))
	assert.Nil(t, NewGate(nil, nil).Consult(ctx, bsRow))

	ok := NewStaticArbiter().Set(cells, map[models.ColumnRole]int{
		models.RoleItemName: 0, models.RoleCurrent: 2, models.RolePrevious: 3,
	}, 0.9)
	c := NewGate(ok, nil).Consult(ctx, bsRow)
	require.NotNil(t, c)
	assert.Equal(t, 4, c.Schema.Columns)
	assert.Equal(t, 1, ok.Calls())
}

func TestReplayArbiter(t *testing.T) {
	r := NewReplayArbiter([]models.DecisionRecord{
		{Cells: bsRow.Texts(), Model: map[string]int{"item_name": 0, "current": 2}, ModelConfidence: 0.8},
		{Cells: []string{"a", "b"}, Model: nil},
	})
	assert.Equal(t, 2, r.Len())

	c, err := r.Classify(context.Background(), bsRow)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 0.8, c.Confidence)
	assert.Equal(t, 2, c.Schema.Roles[models.RoleCurrent])

	c, err = r.Classify(context.Background(), models.NewRow(1, 1, "a", "b"))
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestRowKeyNullMatchesEmpty(t *testing.T) {
	label, amount := "应付股利", "120.00"
	withNull := models.RowFromPtrs(3, 9, []*string{&label, nil, &amount})
	assert.Equal(t, RowKey([]string{label, "", amount}), RowKey(withNull.Texts()))

	r := NewReplayArbiter([]models.DecisionRecord{
		{Cells: []string{label, "", amount}, Model: map[string]int{"item_name": 0, "current": 2}, ModelConfidence: 0.7},
	})
	c, err := r.Classify(context.Background(), withNull)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 2, c.Schema.Roles[models.RoleCurrent])
}

package lexicon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintable/pkg/models"
)

func TestDefaultLexicon(t *testing.T) {
	lex := Default()
	require.NotNil(t, lex)
	assert.Equal(t, CurrentFirst, lex.TieBreak())
	assert.Equal(t, []models.ColumnRole{
		models.RoleItemName, models.RoleCurrent, models.RolePrevious, models.RoleFootnote,
	}, lex.Roles())

	tests := []struct {
		cell string
		want models.ColumnRole
	}{
		{"项目", models.RoleItemName},
		{"项 目", models.RoleItemName},
		{"期末", models.RoleCurrent},
		{"期末余额", models.RoleCurrent},
		{"本期发生额", models.RoleCurrent},
		{"期初", models.RolePrevious},
		{"上年年末余额", models.RolePrevious},
		{"上期发生额", models.RolePrevious},
		{"附注", models.RoleFootnote},
	}
	for _, tt := range tests {
		matches := lex.Match(tt.cell)
		require.Len(t, matches, 1, "Match(%q)", tt.cell)
		assert.Equal(t, tt.want, matches[0].Role, "Match(%q)", tt.cell)
	}

	assert.Empty(t, lex.Match("货币资金"))
	assert.Empty(t, lex.Match("资产总计"))
	assert.Empty(t, lex.Match(""))
}

func TestYear(t *testing.T) {
	lex := Default()
	y, ok := lex.Year("2024年12月31日")
	require.True(t, ok)
	assert.Equal(t, 2024, y)

	_, ok = lex.Year("期末余额")
	assert.False(t, ok)
}

func TestBuildRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		file File
	}{
		{"unknown role", File{Roles: []RoleEntry{{Role: "bogus", Patterns: []string{"x"}}}}},
		{"bad regex", File{Roles: []RoleEntry{
			{Role: "item_name", Patterns: []string{"("}},
		}}},
		{"missing amount roles", File{Roles: []RoleEntry{
			{Role: "item_name", Patterns: []string{"项目"}},
		}}},
		{"duplicate role", File{Roles: []RoleEntry{
			{Role: "item_name", Patterns: []string{"项目"}},
			{Role: "item_name", Patterns: []string{"科目"}},
		}}},
		{"bad tie break", File{TieBreak: "coin_flip", Roles: minimalRoles()}},
		{"year pattern without group", File{YearPattern: `\d{4}`, Roles: minimalRoles()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.file)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidLexicon))
		})
	}
}

func TestParseFormats(t *testing.T) {
	toml := `
version = "t1"
tie_break = "longest_match"

[[roles]]
role = "item_name"
patterns = ["^Item$"]

[[roles]]
role = "current"
patterns = ["^Current"]

[[roles]]
role = "previous"
patterns = ["^Prior"]
`
	lex, err := Parse([]byte(toml), FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, "t1", lex.Version())
	assert.Equal(t, LongestMatch, lex.TieBreak())
	assert.Equal(t, []string{"^Current"}, lex.Patterns(models.RoleCurrent))

	hj := `{
  # comments are fine here
  version: h1
  roles: [
    { role: item_name, patterns: ["^Item$"] }
    { role: current_period, patterns: ["^CY"] }
    { role: previous_period, patterns: ["^PY"] }
  ]
}`
	lex, err = Parse([]byte(hj), FormatHJSON)
	require.NoError(t, err)
	assert.Equal(t, "h1", lex.Version())
	assert.Equal(t, models.RoleCurrent, lex.Match("CY 2024")[0].Role)
}

func TestPatternsReturnsCopy(t *testing.T) {
	lex := Default()
	ps := lex.Patterns(models.RoleCurrent)
	ps[0] = "mutated"
	assert.NotEqual(t, "mutated", lex.Patterns(models.RoleCurrent)[0])
}

func TestStoreReloadKeepsSnapshotOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexicon.yaml")
	require.NoError(t, os.WriteFile(path, mustYAML(t, Default()), 0o600))

	store, err := NewStore(path, nil)
	require.NoError(t, err)
	before := store.Snapshot()

	require.NoError(t, os.WriteFile(path, []byte("roles: [ {role: nope} ]"), 0o600))
	require.Error(t, store.Reload())
	assert.Same(t, before, store.Snapshot())
}

func TestStoreWatchSwapsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexicon.yaml")
	require.NoError(t, os.WriteFile(path, mustYAML(t, Default()), 0o600))

	store, err := NewStore(path, nil)
	require.NoError(t, err)
	held := store.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = store.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	updated := `
version: v2
roles:
  - role: item_name
    patterns: ['^Item$']
  - role: current
    patterns: ['^Current']
  - role: previous
    patterns: ['^Prior']
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		return store.Snapshot().Version() == "v2"
	}, 3*time.Second, 20*time.Millisecond)

	// A snapshot taken before the swap is unaffected.
	assert.Equal(t, "zh-default-1", held.Version())
}

func minimalRoles() []RoleEntry {
	return []RoleEntry{
		{Role: "item_name", Patterns: []string{"^Item$"}},
		{Role: "current", Patterns: []string{"^Current"}},
		{Role: "previous", Patterns: []string{"^Prior"}},
	}
}

func mustYAML(t *testing.T, lex *Lexicon) []byte {
	t.Helper()
	data, err := Marshal(lex, FormatYAML)
	require.NoError(t, err)
	return data
}

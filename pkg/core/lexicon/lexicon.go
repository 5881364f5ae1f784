// Package lexicon holds the keyword lexicon used to recognise column headers.
// A Lexicon is built once from configuration, validated, and never changed afterwards;
// reloading produces a new value.
package lexicon

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"fintable/pkg/models"
)

// ErrInvalidLexicon wraps every validation failure.
var ErrInvalidLexicon = errors.New("invalid lexicon")

// TieBreak decides which amount role wins when one cell matches both.
type TieBreak string

const (
	CurrentFirst  TieBreak = "current_first"
	PreviousFirst TieBreak = "previous_first"
	LongestMatch  TieBreak = "longest_match"
)

// File is the on-disk shape shared by the YAML, TOML and JSON/HJSON formats.
type File struct {
	Version     string      `yaml:"version" toml:"version" json:"version"`
	TieBreak    string      `yaml:"tie_break" toml:"tie_break" json:"tie_break"`
	YearPattern string      `yaml:"year_pattern" toml:"year_pattern" json:"year_pattern"`
	Roles       []RoleEntry `yaml:"roles" toml:"roles" json:"roles"`
}

// RoleEntry lists the phrase patterns for one role, in priority order.
type RoleEntry struct {
	Role     string   `yaml:"role" toml:"role" json:"role"`
	Patterns []string `yaml:"patterns" toml:"patterns" json:"patterns"`
}

type pattern struct {
	source string
	re     *regexp.Regexp
}

// Lexicon is an immutable, validated keyword table.
type Lexicon struct {
	version  string
	tieBreak TieBreak
	order    []models.ColumnRole
	patterns map[models.ColumnRole][]pattern
	year     *regexp.Regexp
}

// Match is one role whose patterns matched a cell.
type Match struct {
	Role    models.ColumnRole
	Pattern string
	// Length is the byte length of the matched text, used by LongestMatch.
	Length int
}

// Build validates a File and compiles it into a Lexicon.
func Build(f File) (*Lexicon, error) {
	lex := &Lexicon{
		version:  f.Version,
		tieBreak: TieBreak(f.TieBreak),
		patterns: make(map[models.ColumnRole][]pattern),
	}
	switch lex.tieBreak {
	case "":
		lex.tieBreak = CurrentFirst
	case CurrentFirst, PreviousFirst, LongestMatch:
	default:
		return nil, fmt.Errorf("%w: unknown tie_break %q", ErrInvalidLexicon, f.TieBreak)
	}

	for _, entry := range f.Roles {
		role := models.ParseRole(entry.Role)
		if role == models.RoleUnknown {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidLexicon, entry.Role)
		}
		if _, dup := lex.patterns[role]; dup {
			return nil, fmt.Errorf("%w: role %q declared twice", ErrInvalidLexicon, entry.Role)
		}
		compiled := make([]pattern, 0, len(entry.Patterns))
		for _, src := range entry.Patterns {
			if strings.TrimSpace(src) == "" {
				return nil, fmt.Errorf("%w: empty pattern for %s", ErrInvalidLexicon, role)
			}
			re, err := regexp.Compile(src)
			if err != nil {
				return nil, fmt.Errorf("%w: %s pattern %q: %v", ErrInvalidLexicon, role, src, err)
			}
			compiled = append(compiled, pattern{source: src, re: re})
		}
		lex.order = append(lex.order, role)
		lex.patterns[role] = compiled
	}

	for _, role := range []models.ColumnRole{models.RoleItemName, models.RoleCurrent, models.RolePrevious} {
		if len(lex.patterns[role]) == 0 {
			return nil, fmt.Errorf("%w: no patterns for %s", ErrInvalidLexicon, role)
		}
	}

	if f.YearPattern != "" {
		re, err := regexp.Compile(f.YearPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: year_pattern: %v", ErrInvalidLexicon, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("%w: year_pattern needs a capture group for the year", ErrInvalidLexicon)
		}
		lex.year = re
	}
	return lex, nil
}

// Version is the label declared in the source file.
func (l *Lexicon) Version() string { return l.version }

// TieBreak returns the configured tie-break rule.
func (l *Lexicon) TieBreak() TieBreak { return l.tieBreak }

// Roles returns the roles in priority order.
func (l *Lexicon) Roles() []models.ColumnRole {
	out := make([]models.ColumnRole, len(l.order))
	copy(out, l.order)
	return out
}

// Patterns returns the pattern sources for role.
func (l *Lexicon) Patterns(role models.ColumnRole) []string {
	ps := l.patterns[role]
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.source
	}
	return out
}

// Match returns every role with a pattern matching text, in role priority order.
// For each role only its first matching pattern is reported.
func (l *Lexicon) Match(text string) []Match {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []Match
	for _, role := range l.order {
		for _, p := range l.patterns[role] {
			if loc := p.re.FindStringIndex(text); loc != nil {
				out = append(out, Match{Role: role, Pattern: p.source, Length: loc[1] - loc[0]})
				break
			}
		}
	}
	return out
}

// Year extracts the year from a dated header cell such as "2024年12月31日".
func (l *Lexicon) Year(text string) (int, bool) {
	if l.year == nil {
		return 0, false
	}
	m := l.year.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	y, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return y, true
}

// File renders the lexicon back to its source shape.
func (l *Lexicon) File() File {
	f := File{Version: l.version, TieBreak: string(l.tieBreak)}
	if l.year != nil {
		f.YearPattern = l.year.String()
	}
	for _, role := range l.order {
		f.Roles = append(f.Roles, RoleEntry{Role: string(role), Patterns: l.Patterns(role)})
	}
	return f
}

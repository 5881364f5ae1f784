// Package assemble applies committed row schemas to statement rows and groups
// the extracted items into canonical statement sections.
package assemble

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v2"

	"fintable/pkg/models"
)

// ErrInvalidLibrary wraps every library validation failure.
var ErrInvalidLibrary = errors.New("invalid line-item library")

// EntryRole says how an entry takes part in section arithmetic.
type EntryRole string

const (
	EntryItem     EntryRole = "item"     // summed into its section subtotal
	EntrySubtotal EntryRole = "subtotal" // the section's reported subtotal
	EntryTotal    EntryRole = "total"    // a reported total outside any section sum
	EntryMemo     EntryRole = "memo"     // an "of which" breakdown, never summed
)

// LibraryFile is the on-disk shape of a line-item library.
type LibraryFile struct {
	Kind     string        `yaml:"kind" toml:"kind"`
	Version  string        `yaml:"version" toml:"version"`
	Titles   []string      `yaml:"titles" toml:"titles"`
	Markers  []string      `yaml:"markers" toml:"markers"`
	Sections []SectionFile `yaml:"sections" toml:"sections"`
	Sums     []SumFile     `yaml:"sums" toml:"sums"`
}

type SectionFile struct {
	Name    string      `yaml:"name" toml:"name"`
	Title   string      `yaml:"title" toml:"title"`
	Entries []EntryFile `yaml:"entries" toml:"entries"`
}

type EntryFile struct {
	Field     string   `yaml:"field" toml:"field"`
	Patterns  []string `yaml:"patterns" toml:"patterns"`
	Role      string   `yaml:"role" toml:"role"`
	Required  bool     `yaml:"required" toml:"required"`
	Deduction bool     `yaml:"deduction" toml:"deduction"`
}

// SumFile declares a reported total as the sum of other fields; a leading
// "-" subtracts the term.
type SumFile struct {
	Field string   `yaml:"field" toml:"field"`
	Terms []string `yaml:"terms" toml:"terms"`
}

// Entry is one canonical line item.
type Entry struct {
	FieldID   string
	Section   string
	Role      EntryRole
	Required  bool
	Deduction bool
	Patterns  []string
	res       []*regexp.Regexp
	section   int
}

// Matches reports whether a normalised label names this item.
func (e Entry) Matches(label string) bool {
	for _, re := range e.res {
		if re.MatchString(label) {
			return true
		}
	}
	return false
}

// Section is a named group of entries with at most one subtotal entry.
type Section struct {
	Name     string
	Title    string
	Subtotal string
}

// Term is one operand of a Sum.
type Term struct {
	FieldID string
	Negate  bool
}

// Sum states that FieldID equals the signed sum of Terms.
type Sum struct {
	FieldID string
	Terms   []Term
}

// Library is an immutable, validated line-item library for one statement kind.
type Library struct {
	kind     models.StatementKind
	version  string
	titles   []*regexp.Regexp
	markers  []*regexp.Regexp
	sections []Section
	entries  []Entry
	sums     []Sum
	byField  map[string]int
	file     LibraryFile
}

// BuildLibrary validates f and compiles its patterns.
func BuildLibrary(f LibraryFile) (*Library, error) {
	kind := models.ParseKind(f.Kind)
	if kind == models.KindUnknown {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidLibrary, f.Kind)
	}
	lib := &Library{kind: kind, version: f.Version, byField: map[string]int{}, file: f}

	var err error
	if lib.titles, err = compileAll(f.Titles); err != nil {
		return nil, err
	}
	if lib.markers, err = compileAll(f.Markers); err != nil {
		return nil, err
	}

	seenSection := map[string]bool{}
	for si, sf := range f.Sections {
		if sf.Name == "" || seenSection[sf.Name] {
			return nil, fmt.Errorf("%w: section %d: empty or duplicate name %q", ErrInvalidLibrary, si, sf.Name)
		}
		seenSection[sf.Name] = true
		sec := Section{Name: sf.Name, Title: sf.Title}

		for _, ef := range sf.Entries {
			if ef.Field == "" {
				return nil, fmt.Errorf("%w: section %s: entry without field", ErrInvalidLibrary, sf.Name)
			}
			if _, dup := lib.byField[ef.Field]; dup {
				return nil, fmt.Errorf("%w: duplicate field %s", ErrInvalidLibrary, ef.Field)
			}
			role := EntryRole(ef.Role)
			switch role {
			case "":
				role = EntryItem
			case EntryItem, EntryTotal, EntryMemo:
			case EntrySubtotal:
				if sec.Subtotal != "" {
					return nil, fmt.Errorf("%w: section %s has two subtotals", ErrInvalidLibrary, sf.Name)
				}
				sec.Subtotal = ef.Field
			default:
				return nil, fmt.Errorf("%w: field %s: unknown role %q", ErrInvalidLibrary, ef.Field, ef.Role)
			}
			if len(ef.Patterns) == 0 {
				return nil, fmt.Errorf("%w: field %s has no patterns", ErrInvalidLibrary, ef.Field)
			}
			res, err := compileAll(ef.Patterns)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", ef.Field, err)
			}
			lib.byField[ef.Field] = len(lib.entries)
			lib.entries = append(lib.entries, Entry{
				FieldID:   ef.Field,
				Section:   sf.Name,
				Role:      role,
				Required:  ef.Required,
				Deduction: ef.Deduction,
				Patterns:  append([]string(nil), ef.Patterns...),
				res:       res,
				section:   si,
			})
		}
		lib.sections = append(lib.sections, sec)
	}

	for _, sf := range f.Sums {
		if _, ok := lib.byField[sf.Field]; !ok {
			return nil, fmt.Errorf("%w: sum of unknown field %s", ErrInvalidLibrary, sf.Field)
		}
		sum := Sum{FieldID: sf.Field}
		for _, t := range sf.Terms {
			term := Term{FieldID: strings.TrimPrefix(t, "-"), Negate: strings.HasPrefix(t, "-")}
			if _, ok := lib.byField[term.FieldID]; !ok {
				return nil, fmt.Errorf("%w: sum %s: unknown term %s", ErrInvalidLibrary, sf.Field, term.FieldID)
			}
			sum.Terms = append(sum.Terms, term)
		}
		if len(sum.Terms) == 0 {
			return nil, fmt.Errorf("%w: sum %s has no terms", ErrInvalidLibrary, sf.Field)
		}
		lib.sums = append(lib.sums, sum)
	}
	return lib, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: empty pattern", ErrInvalidLibrary)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidLibrary, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (l *Library) Kind() models.StatementKind { return l.kind }
func (l *Library) Version() string { return l.version }

// Sections returns the sections in library order.
func (l *Library) Sections() []Section {
	return append([]Section(nil), l.sections...)
}

// Entries returns every entry in library order.
func (l *Library) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Entry looks up an entry by field ID.
func (l *Library) Entry(fieldID string) (Entry, bool) {
	i, ok := l.byField[fieldID]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

// Required returns the entries that count towards completeness.
func (l *Library) Required() []Entry {
	var out []Entry
	for _, e := range l.entries {
		if e.Required {
			out = append(out, e)
		}
	}
	return out
}

// Sums returns the declared total identities.
func (l *Library) Sums() []Sum {
	return append([]Sum(nil), l.sums...)
}

// SectionIndex returns the position of a section, or -1.
func (l *Library) SectionIndex(name string) int {
	for i, s := range l.sections {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Match finds the entry for a normalised label. Entries in sections at or
// after fromSection are tried first so repeated labels (永续债 under both
// liabilities and equity) bind to the section the statement is in.
func (l *Library) Match(label string, fromSection int) (Entry, bool) {
	if fromSection < 0 {
		fromSection = 0
	}
	for _, e := range l.entries {
		if e.section >= fromSection && e.Matches(label) {
			return e, true
		}
	}
	for _, e := range l.entries {
		if e.section < fromSection && e.Matches(label) {
			return e, true
		}
	}
	return Entry{}, false
}

// File returns the source the library was built from.
func (l *Library) File() LibraryFile { return l.file }

// =============================================================================
// LOADING
// =============================================================================

//go:embed libraries/*.yaml
var embedded embed.FS

var (
	defaultOnce sync.Once
	defaults    map[models.StatementKind]*Library
)

// DefaultLibrary returns the built-in library for kind, or nil for an unknown kind.
func DefaultLibrary(kind models.StatementKind) *Library {
	defaultOnce.Do(func() {
		defaults = map[models.StatementKind]*Library{}
		for _, name := range []string{"balance_sheet", "income_statement", "cash_flow"} {
			data, err := embedded.ReadFile("libraries/" + name + ".yaml")
			if err != nil {
				panic(fmt.Sprintf("assemble: embedded library %s: %v", name, err))
			}
			lib, err := ParseLibrary(data, ".yaml")
			if err != nil {
				panic(fmt.Sprintf("assemble: embedded library %s is invalid: %v", name, err))
			}
			defaults[lib.Kind()] = lib
		}
	})
	return defaults[kind]
}

// DefaultLibraries returns the built-in libraries in a fixed order.
func DefaultLibraries() []*Library {
	return []*Library{
		DefaultLibrary(models.KindBalanceSheet),
		DefaultLibrary(models.KindIncomeStatement),
		DefaultLibrary(models.KindCashFlow),
	}
}

// ParseLibrary decodes YAML or TOML library data; ext selects the format.
func ParseLibrary(data []byte, ext string) (*Library, error) {
	var f LibraryFile
	var err error
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	case ".toml":
		err = toml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("unsupported library format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode library: %w", err)
	}
	return BuildLibrary(f)
}

// LoadLibrary reads a library file from disk.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read library %s: %w", path, err)
	}
	lib, err := ParseLibrary(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lib, nil
}

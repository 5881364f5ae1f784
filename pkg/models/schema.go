package models

import (
	"errors"
	"fmt"
	"sort"
)

// =============================================================================
// COLUMN ROLES
// =============================================================================

// ColumnRole names the meaning of a column within a row.
type ColumnRole string

const (
	RoleItemName ColumnRole = "item_name"
	RoleFootnote ColumnRole = "footnote"
	RoleCurrent  ColumnRole = "current"
	RolePrevious ColumnRole = "previous"
	RoleUnknown  ColumnRole = "unknown"
)

// AssignableRoles are the roles a RowSchema can bind to a column, in canonical order.
var AssignableRoles = []ColumnRole{RoleItemName, RoleFootnote, RoleCurrent, RolePrevious}

// ParseRole maps the role spellings seen in configs and model replies to a ColumnRole.
func ParseRole(s string) ColumnRole {
	switch s {
	case "item_name", "item", "name", "label":
		return RoleItemName
	case "footnote", "note", "notes":
		return RoleFootnote
	case "current", "current_period", "current_amount":
		return RoleCurrent
	case "previous", "previous_period", "prior", "prior_period", "previous_amount":
		return RolePrevious
	}
	return RoleUnknown
}

// Provenance records how a committed schema was derived.
type Provenance string

const (
	ProvenanceHeuristic         Provenance = "heuristic"
	ProvenanceModel             Provenance = "model"
	ProvenanceReconciled        Provenance = "reconciled"
	ProvenanceReconciledDefault Provenance = "reconciled_default"
	ProvenanceUserChosen        Provenance = "user_chosen"
)

// =============================================================================
// ROW SCHEMA
// =============================================================================

// ErrSchemaInvariant is returned when a schema assigns one column to two roles
// or points outside the row it describes.
var ErrSchemaInvariant = errors.New("row schema invariant violated")

// RowSchema maps column roles to indices for a row (or run of rows).
type RowSchema struct {
	Roles      map[ColumnRole]int `json:"roles"`
	Provenance Provenance         `json:"provenance"`
	Confidence float64            `json:"confidence"`
	Columns    int                `json:"columns"`
	Rationale  string             `json:"rationale,omitempty"`
}

// Index returns the column assigned to role.
func (s RowSchema) Index(role ColumnRole) (int, bool) {
	idx, ok := s.Roles[role]
	return idx, ok
}

// Has reports whether role is assigned.
func (s RowSchema) Has(role ColumnRole) bool {
	_, ok := s.Roles[role]
	return ok
}

// Empty reports whether no role is assigned.
func (s RowSchema) Empty() bool { return len(s.Roles) == 0 }

// Equal compares role maps only; provenance and confidence are ignored.
func (s RowSchema) Equal(o RowSchema) bool {
	if len(s.Roles) != len(o.Roles) {
		return false
	}
	for role, idx := range s.Roles {
		if other, ok := o.Roles[role]; !ok || other != idx {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers never share the role map.
func (s RowSchema) Clone() RowSchema {
	cp := s
	cp.Roles = make(map[ColumnRole]int, len(s.Roles))
	for k, v := range s.Roles {
		cp.Roles[k] = v
	}
	return cp
}

// Validate checks that assigned indices are distinct and inside [0, columns).
func (s RowSchema) Validate(columns int) error {
	seen := make(map[int]ColumnRole, len(s.Roles))
	for _, role := range s.sortedRoles() {
		idx := s.Roles[role]
		if idx < 0 || idx >= columns {
			return fmt.Errorf("%w: %s -> %d out of range for %d columns", ErrSchemaInvariant, role, idx, columns)
		}
		if prev, dup := seen[idx]; dup {
			return fmt.Errorf("%w: %s and %s both -> %d", ErrSchemaInvariant, prev, role, idx)
		}
		seen[idx] = role
	}
	return nil
}

// IntMap renders the role map with string keys for logs and persistence.
func (s RowSchema) IntMap() map[string]int {
	out := make(map[string]int, len(s.Roles))
	for k, v := range s.Roles {
		out[string(k)] = v
	}
	return out
}

// String gives a stable, compact rendering like {item_name:0 current:2}.
func (s RowSchema) String() string {
	out := "{"
	for i, role := range s.sortedRoles() {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s:%d", role, s.Roles[role])
	}
	return out + "}"
}

func (s RowSchema) sortedRoles() []ColumnRole {
	roles := make([]ColumnRole, 0, len(s.Roles))
	for r := range s.Roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roleOrder(roles[i]) < roleOrder(roles[j]) })
	return roles
}

func roleOrder(r ColumnRole) int {
	for i, a := range AssignableRoles {
		if a == r {
			return i
		}
	}
	return len(AssignableRoles)
}

// SchemaFromIntMap is the inverse of IntMap; unknown role names are dropped.
func SchemaFromIntMap(m map[string]int) RowSchema {
	roles := make(map[ColumnRole]int, len(m))
	for k, v := range m {
		if r := ParseRole(k); r != RoleUnknown {
			roles[r] = v
		}
	}
	return RowSchema{Roles: roles}
}

// CachedPattern is the last committed schema and the column count it was derived from.
type CachedPattern struct {
	Schema  RowSchema `json:"schema"`
	Columns int       `json:"columns"`
}

package reconcile

import (
	"fmt"

	"fintable/pkg/models"
)

// Difference is one role the two mappings place differently.
type Difference struct {
	Role          models.ColumnRole `json:"role"`
	Heuristic     *int              `json:"heuristic"`
	Model         *int              `json:"model"`
	HeuristicCell string            `json:"heuristic_cell,omitempty"`
	ModelCell     string            `json:"model_cell,omitempty"`
}

func (d Difference) String() string {
	switch {
	case d.Heuristic == nil:
		return fmt.Sprintf("%s: heuristic none, model column %d (%q)", d.Role, *d.Model, d.ModelCell)
	case d.Model == nil:
		return fmt.Sprintf("%s: heuristic column %d (%q), model none", d.Role, *d.Heuristic, d.HeuristicCell)
	}
	return fmt.Sprintf("%s: heuristic column %d (%q), model column %d (%q)",
		d.Role, *d.Heuristic, d.HeuristicCell, *d.Model, d.ModelCell)
}

// Diff lists the roles where h and m disagree, in role order, with the cell
// text each side points at.
func Diff(row models.Row, h, m models.RowSchema) []Difference {
	var out []Difference
	for _, role := range models.AssignableRoles {
		hi, hok := h.Index(role)
		mi, mok := m.Index(role)
		if hok == mok && hi == mi {
			continue
		}
		d := Difference{Role: role}
		if hok {
			d.Heuristic = &hi
			d.HeuristicCell = row.Cell(hi)
		}
		if mok {
			d.Model = &mi
			d.ModelCell = row.Cell(mi)
		}
		out = append(out, d)
	}
	return out
}

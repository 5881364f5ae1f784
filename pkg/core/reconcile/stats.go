package reconcile

import "fintable/pkg/models"

// Stats summarises a set of decision records.
type Stats struct {
	Total        int                `json:"total"`
	ByChoice     map[string]int     `json:"by_choice"`
	Percent      map[string]float64 `json:"percent"`
	ByProvenance map[string]int     `json:"by_provenance"`
	Runs         int                `json:"runs"`
}

// ComputeStats counts records per choice and provenance.
func ComputeStats(records []models.DecisionRecord) Stats {
	st := Stats{
		Total:        len(records),
		ByChoice:     map[string]int{},
		Percent:      map[string]float64{},
		ByProvenance: map[string]int{},
	}
	runs := map[string]struct{}{}
	for _, r := range records {
		st.ByChoice[r.Choice]++
		st.ByProvenance[string(r.Provenance)]++
		runs[r.RunID] = struct{}{}
	}
	st.Runs = len(runs)
	if st.Total == 0 {
		return st
	}
	for c, n := range st.ByChoice {
		st.Percent[c] = float64(n) / float64(st.Total) * 100
	}
	return st
}

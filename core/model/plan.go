package model

import "gonum.org/v1/gonum/floats"

// DispenseEntry is one volume to deliver into one well.
type DispenseEntry struct {
	Volume float64 `json:"volume_ul"`
	Well   WellID  `json:"well"`
}

// Diagnostic reports a cell that does not mention the requested solution.
type Diagnostic struct {
	Solution SolutionID `json:"solution"`
	Column   string     `json:"column"`
	Row      int        `json:"row"`
	RowLabel string     `json:"row_label,omitempty"`
	Well     WellID     `json:"well,omitempty"`
}

// DispensePlan is the ordered list of non-zero dispenses for one solution.
type DispensePlan struct {
	Solution    SolutionID      `json:"solution"`
	Entries     []DispenseEntry `json:"entries"`
	Diagnostics []Diagnostic    `json:"diagnostics,omitempty"`
}

// Len returns the number of wells receiving liquid.
func (p DispensePlan) Len() int { return len(p.Entries) }

// Empty reports whether no well receives liquid.
func (p DispensePlan) Empty() bool { return len(p.Entries) == 0 }

// Volumes returns the entry volumes in plan order.
func (p DispensePlan) Volumes() []float64 {
	out := make([]float64, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Volume
	}
	return out
}

// Wells returns the entry wells in plan order.
func (p DispensePlan) Wells() []WellID {
	out := make([]WellID, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Well
	}
	return out
}

// Total is the volume that has to be aspirated to serve the whole plan.
func (p DispensePlan) Total() float64 {
	if len(p.Entries) == 0 {
		return 0
	}
	return floats.Sum(p.Volumes())
}

// Package runlog persists one record per executed transfer so runs can be
// audited and queried after the fact.
package runlog

import (
	"context"
	"time"

	"github.com/kilianp07/dispense/core/model"
)

// Record captures one transfer of a protocol run.
type Record struct {
	RunID       string                `json:"run_id"`
	Timestamp   time.Time             `json:"timestamp"`
	Protocol    string                `json:"protocol"`
	Transfer    string                `json:"transfer"`
	Solution    model.SolutionID      `json:"solution"`
	Pipette     string                `json:"pipette"`
	Plate       string                `json:"plate"`
	Strategy    string                `json:"strategy"`
	TotalVolume float64               `json:"total_volume_ul"`
	Entries     []model.DispenseEntry `json:"entries"`
	Missing     int                   `json:"missing"`
	Error       string                `json:"error,omitempty"`
}

// Success reports whether the transfer completed.
func (r Record) Success() bool { return r.Error == "" }

// Query defines filters for retrieving records. Zero fields match anything.
type Query struct {
	Start    time.Time
	End      time.Time
	Solution model.SolutionID
	Well     model.WellID
	RunID    string
}

// Matches reports whether r passes every filter of q.
func (q Query) Matches(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Solution != "" && r.Solution != q.Solution {
		return false
	}
	if q.RunID != "" && r.RunID != q.RunID {
		return false
	}
	if q.Well != "" {
		for _, e := range r.Entries {
			if e.Well == q.Well {
				return true
			}
		}
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

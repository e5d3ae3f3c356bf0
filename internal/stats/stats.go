// Package stats derives aggregate views from a task cache snapshot.
package stats

import "taskhive/internal/model"

// Compute counts completed and pending tasks. Total always equals
// Completed+Pending and len(tasks).
func Compute(tasks []model.Task) model.Stats {
	var s model.Stats
	for _, t := range tasks {
		if t.IsCompleted {
			s.Completed++
		} else {
			s.Pending++
		}
	}
	s.Total = len(tasks)
	return s
}

// SelectAll describes the "select all" checkbox for a list.
type SelectAll struct {
	Eligible      bool `json:"eligible"`
	Checked       bool `json:"checked"`
	Indeterminate bool `json:"indeterminate"`
}

// SelectAllState projects the checkbox from how many visible ids are selected.
// selectedVisible must count only ids that are in visible.
func SelectAllState(selectedVisible int, visible []model.TaskID) SelectAll {
	n := len(visible)
	return SelectAll{
		Eligible:      n > 0,
		Checked:       n > 0 && selectedVisible == n,
		Indeterminate: selectedVisible > 0 && selectedVisible < n,
	}
}

// CompletionRate is Completed/Total, or 0 for an empty list.
func CompletionRate(s model.Stats) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total)
}

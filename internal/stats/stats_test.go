package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taskhive/internal/model"
)

func TestCompute(t *testing.T) {
	tasks := []model.Task{
		{ID: "1", IsCompleted: true},
		{ID: "2"},
		{ID: "3"},
	}
	s := Compute(tasks)
	assert.Equal(t, model.Stats{Total: 3, Completed: 1, Pending: 2}, s)
	assert.Equal(t, s.Total, s.Completed+s.Pending)
	assert.InDelta(t, 1.0/3.0, CompletionRate(s), 1e-9)

	assert.Equal(t, model.Stats{}, Compute(nil))
	assert.Zero(t, CompletionRate(model.Stats{}))
}

func TestSelectAllState(t *testing.T) {
	ids := []model.TaskID{"a", "b"}

	assert.Equal(t, SelectAll{Eligible: true}, SelectAllState(0, ids))
	assert.Equal(t, SelectAll{Eligible: true, Indeterminate: true}, SelectAllState(1, ids))
	assert.Equal(t, SelectAll{Eligible: true, Checked: true}, SelectAllState(2, ids))
	assert.Equal(t, SelectAll{}, SelectAllState(0, nil))
}

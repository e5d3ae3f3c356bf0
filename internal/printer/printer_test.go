package printer

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhive/internal/model"
)

func TestTasks_Table(t *testing.T) {
	var out, errOut bytes.Buffer
	p := New(&out, &errOut, "table")
	due := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, p.Tasks([]model.Task{
		{ID: "t1", Title: "Buy milk", Priority: model.PriorityHigh, Category: "home", DueDate: &due, IsCompleted: true},
		{ID: "t2", Title: "Write report", Priority: model.PriorityMedium},
	}))

	s := out.String()
	assert.Contains(t, s, "PRIORITY")
	assert.Contains(t, s, "2026-11-01")
	assert.Contains(t, s, "Write report")
	assert.Empty(t, errOut.String())
}

func TestTasks_JSONNeverNull(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, &bytes.Buffer{}, "JSON")
	require.NoError(t, p.Tasks(nil))
	assert.JSONEq(t, "[]", out.String())
}

func TestSuccessSilentInJSONMode(t *testing.T) {
	var out bytes.Buffer
	New(&out, &bytes.Buffer{}, "json").Success("done")
	assert.Empty(t, out.String())

	New(&out, &bytes.Buffer{}, "").Success("done %d", 2)
	assert.Contains(t, out.String(), "done 2")
}

func TestError(t *testing.T) {
	var errOut bytes.Buffer
	p := New(&bytes.Buffer{}, &errOut, "")

	err := p.Error("Not allowed", "nothing changed", []string{"a", "b"})
	assert.EqualError(t, err, "Not allowed")
	assert.Contains(t, errOut.String(), "nothing changed")
	assert.Contains(t, errOut.String(), "  2. b")
}

func TestBulkAndStats(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, &bytes.Buffer{}, "")
	require.NoError(t, p.Bulk(model.BulkResult{Success: true, DeletedCount: 3}))
	require.NoError(t, p.Stats(model.Stats{Total: 4, Completed: 1, Pending: 3}))
	assert.Contains(t, out.String(), "deleted 3 task(s)")
	assert.Contains(t, out.String(), "(25% done)")

	out.Reset()
	p = New(&out, &bytes.Buffer{}, "json")
	require.NoError(t, p.Stats(model.Stats{Total: 1, Pending: 1}))
	var st model.Stats
	require.NoError(t, json.Unmarshal(out.Bytes(), &st))
	assert.Equal(t, 1, st.Pending)
}

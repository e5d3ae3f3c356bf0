package task

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhive/internal/model"
)

type clocked interface {
	setClock(func() time.Time)
}

// stepClock advances one minute on every call.
func stepClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

var epoch = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

// runBackendSuite checks the behaviour every storage backend must share.
func runBackendSuite(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()

	setup := func(t *testing.T) (Backend, Repo) {
		b := newBackend(t)
		b.(clocked).setClock(stepClock(epoch))
		return b, b.ForUser("u1")
	}

	create := func(t *testing.T, repo Repo, title string, p model.Priority, cat string) model.Task {
		t.Helper()
		got, err := repo.Create(ctx, model.TaskCreate{Title: title, Priority: p, Category: cat})
		require.NoError(t, err)
		return got
	}

	t.Run("create get list", func(t *testing.T) {
		_, repo := setup(t)
		a := create(t, repo, "  A  ", "", "work")
		b := create(t, repo, "B", model.PriorityHigh, "home")
		c := create(t, repo, "C", model.PriorityHigh, "work")

		assert.Equal(t, "A", a.Title)
		assert.Equal(t, model.PriorityMedium, a.Priority)
		assert.Equal(t, "u1", a.UserID)

		got, err := repo.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "B", got.Title)

		page, err := repo.List(ctx, model.Filter{})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, []model.TaskID{c.ID, b.ID, a.ID}, taskIDs(page.Tasks))

		page, err = repo.List(ctx, model.Filter{Priority: model.PriorityHigh, Category: "work"})
		require.NoError(t, err)
		assert.Equal(t, []model.TaskID{c.ID}, taskIDs(page.Tasks))

		page, err = repo.List(ctx, model.Filter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, 1, page.Offset)
		assert.Equal(t, []model.TaskID{b.ID}, taskIDs(page.Tasks))
	})

	t.Run("create validates", func(t *testing.T) {
		_, repo := setup(t)
		_, err := repo.Create(ctx, model.TaskCreate{Title: "   "})
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("update", func(t *testing.T) {
		_, repo := setup(t)
		a := create(t, repo, "A", "", "")

		_, err := repo.Update(ctx, a.ID, model.Patch{})
		assert.ErrorIs(t, err, model.ErrValidation)

		_, err = repo.Update(ctx, "missing", model.Patch{Title: strPtr("x")})
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := repo.Update(ctx, a.ID, model.Patch{Title: strPtr("renamed"), Category: strPtr("home")})
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Title)
		assert.Equal(t, "home", got.Category)
		assert.True(t, got.UpdatedAt.After(a.UpdatedAt))
	})

	t.Run("toggle twice", func(t *testing.T) {
		_, repo := setup(t)
		a := create(t, repo, "A", "", "")

		once, err := repo.Toggle(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, once.IsCompleted)
		twice, err := repo.Toggle(ctx, a.ID)
		require.NoError(t, err)
		assert.False(t, twice.IsCompleted)
	})

	t.Run("soft delete and restore", func(t *testing.T) {
		_, repo := setup(t)
		a := create(t, repo, "A", "", "")
		create(t, repo, "B", "", "")

		require.NoError(t, repo.Delete(ctx, a.ID))
		_, err := repo.Get(ctx, a.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, a.ID), ErrNotFound)

		st, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.Stats{Total: 1, Pending: 1}, st)

		trash, err := repo.ListTrash(ctx, 0, 0)
		require.NoError(t, err)
		require.Equal(t, 1, trash.Total)
		assert.True(t, trash.Tasks[0].SoftDeleted)
		assert.NotNil(t, trash.Tasks[0].DeletedAt)

		restored, err := repo.Restore(ctx, a.ID)
		require.NoError(t, err)
		assert.False(t, restored.SoftDeleted)
		assert.Nil(t, restored.DeletedAt)

		_, err = repo.Restore(ctx, a.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("bulk update requires ownership", func(t *testing.T) {
		b, repo := setup(t)
		a := create(t, repo, "A", "", "")
		c := create(t, repo, "C", "", "")
		foreign := create(t, b.ForUser("u2"), "X", "", "")

		_, err := repo.BulkUpdate(ctx, []model.TaskID{a.ID, foreign.ID}, model.Patch{IsCompleted: boolPtr(true)})
		assert.ErrorIs(t, err, ErrNotOwned)
		got, err := repo.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.False(t, got.IsCompleted)

		n, err := repo.BulkUpdate(ctx, []model.TaskID{a.ID, c.ID, a.ID}, model.Patch{IsCompleted: boolPtr(true)})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		st, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.Stats{Total: 2, Completed: 2}, st)

		other, err := b.ForUser("u2").Get(ctx, foreign.ID)
		require.NoError(t, err)
		assert.False(t, other.IsCompleted)
	})

	t.Run("bulk delete and restore many", func(t *testing.T) {
		_, repo := setup(t)
		a := create(t, repo, "A", "", "")
		c := create(t, repo, "C", "", "")

		n, err := repo.BulkDelete(ctx, []model.TaskID{a.ID, c.ID})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = repo.BulkDelete(ctx, []model.TaskID{a.ID})
		assert.ErrorIs(t, err, ErrNotOwned)

		_, err = repo.RestoreMany(ctx, []model.TaskID{a.ID, "missing"})
		assert.ErrorIs(t, err, ErrNotOwned)

		n, err = repo.RestoreMany(ctx, []model.TaskID{a.ID, c.ID})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		page, err := repo.List(ctx, model.Filter{})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
	})

	t.Run("purge trash", func(t *testing.T) {
		b, repo := setup(t)
		a := create(t, repo, "A", "", "")
		c := create(t, repo, "C", "", "")
		other := b.ForUser("u2")
		x := create(t, other, "X", "", "")

		require.NoError(t, repo.Delete(ctx, a.ID))
		require.NoError(t, repo.Delete(ctx, c.ID))
		require.NoError(t, other.Delete(ctx, x.ID))

		n, err := repo.PurgeTrash(ctx, epoch)
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = repo.PurgeTrash(ctx, epoch.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		trash, err := other.ListTrash(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, trash.Total)

		n, err = b.PurgeAllTrash(ctx, epoch.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("users are isolated", func(t *testing.T) {
		b, repo := setup(t)
		a := create(t, repo, "A", "", "")

		_, err := b.ForUser("u2").Get(ctx, a.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = b.ForUser("u2").Toggle(ctx, a.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func taskIDs(ts []model.Task) []model.TaskID {
	out := make([]model.TaskID, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func TestMemoryRepo(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) Backend { return NewMemoryRepo() })
}

func TestFileRepo(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) Backend {
		r, err := NewFileRepo(t.TempDir())
		require.NoError(t, err)
		return r
	})
}

func TestFileRepo_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r, err := NewFileRepo(dir)
	require.NoError(t, err)
	created, err := r.ForUser("u1").Create(ctx, model.TaskCreate{Title: "keep me"})
	require.NoError(t, err)

	reopened, err := NewFileRepo(dir)
	require.NoError(t, err)
	got, err := reopened.ForUser("u1").Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep me", got.Title)
}

func TestTaskSet_FailedBulkLeavesNothingDirty(t *testing.T) {
	s := newTaskSet("u1", nil)
	a, err := s.create(model.TaskCreate{Title: "A"}, epoch)
	require.NoError(t, err)
	s.dirty = map[model.TaskID]struct{}{}

	_, err = s.bulkDelete([]model.TaskID{a.ID, "nope"}, epoch)
	require.ErrorIs(t, err, ErrNotOwned)
	assert.Contains(t, err.Error(), "nope")
	assert.Empty(t, s.dirty)
	assert.False(t, s.tasks[a.ID].SoftDeleted)
}

func TestFileRepo_FailedSaveLeavesTasksUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r, err := NewFileRepo(dir)
	require.NoError(t, err)
	repo := r.ForUser("u1")
	kept, err := repo.Create(ctx, model.TaskCreate{Title: "keep"})
	require.NoError(t, err)

	r.store.path = filepath.Join(dir, "missing", "tasks.json")

	_, err = repo.Update(ctx, kept.ID, model.Patch{Title: strPtr("lost")})
	require.Error(t, err)
	_, err = repo.Toggle(ctx, kept.ID)
	require.Error(t, err)
	require.Error(t, repo.Delete(ctx, kept.ID))
	_, err = repo.Create(ctx, model.TaskCreate{Title: "never"})
	require.Error(t, err)

	got, err := repo.Get(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep", got.Title)
	assert.False(t, got.IsCompleted)

	page, err := repo.List(ctx, model.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestTaskSet_Revert(t *testing.T) {
	s := newTaskSet("u1", nil)
	a, err := s.create(model.TaskCreate{Title: "A"}, epoch)
	require.NoError(t, err)
	s = newTaskSet("u1", s.tasks)

	_, err = s.update(a.ID, model.Patch{Title: strPtr("B")}, epoch)
	require.NoError(t, err)
	_, err = s.create(model.TaskCreate{Title: "C"}, epoch)
	require.NoError(t, err)
	require.Len(t, s.tasks, 2)

	s.revert()
	require.Len(t, s.tasks, 1)
	assert.Equal(t, "A", s.tasks[a.ID].Title)
	assert.Empty(t, s.dirty)
}

package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskhive/internal/model"
)

var (
	ErrNotFound = errors.New("task not found")
	// ErrNotOwned rejects a bulk request naming a task the user cannot touch.
	ErrNotOwned = errors.New("tasks not found or not owned by user")
)

// Repo is one user's view of the task store. Obtain it from Backend.ForUser.
type Repo interface {
	Create(ctx context.Context, in model.TaskCreate) (model.Task, error)
	Get(ctx context.Context, id model.TaskID) (model.Task, error)
	List(ctx context.Context, f model.Filter) (model.Page, error)
	Update(ctx context.Context, id model.TaskID, p model.Patch) (model.Task, error)
	Toggle(ctx context.Context, id model.TaskID) (model.Task, error)
	Delete(ctx context.Context, id model.TaskID) error

	BulkUpdate(ctx context.Context, ids []model.TaskID, p model.Patch) (int, error)
	BulkDelete(ctx context.Context, ids []model.TaskID) (int, error)

	ListTrash(ctx context.Context, limit, offset int) (model.Page, error)
	Restore(ctx context.Context, id model.TaskID) (model.Task, error)
	RestoreMany(ctx context.Context, ids []model.TaskID) (int, error)
	PurgeTrash(ctx context.Context, before time.Time) (int, error)

	Stats(ctx context.Context) (model.Stats, error)
}

// Backend owns the storage connection and hands out user-scoped repos.
type Backend interface {
	ForUser(userID string) Repo
	// PurgeAllTrash drops soft-deleted tasks of every user deleted before the cutoff.
	PurgeAllTrash(ctx context.Context, before time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

func newID() model.TaskID {
	return model.TaskID(uuid.NewString())
}

func normalizeUser(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "default"
	}
	return userID
}

func notOwned(ids []model.TaskID) error {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return fmt.Errorf("%w: %s", ErrNotOwned, strings.Join(parts, ", "))
}

// taskSet holds one user's tasks and records which ids a mutation touched,
// so each backend only writes back what changed.
type taskSet struct {
	userID string
	tasks  map[model.TaskID]model.Task
	dirty  map[model.TaskID]struct{}
	// before holds the first-seen value of every dirty id; nil means absent.
	before map[model.TaskID]*model.Task
}

func newTaskSet(userID string, tasks map[model.TaskID]model.Task) *taskSet {
	if tasks == nil {
		tasks = map[model.TaskID]model.Task{}
	}
	return &taskSet{
		userID: userID,
		tasks:  tasks,
		dirty:  map[model.TaskID]struct{}{},
		before: map[model.TaskID]*model.Task{},
	}
}

func (s *taskSet) remember(id model.TaskID) {
	if _, seen := s.before[id]; seen {
		return
	}
	if t, ok := s.tasks[id]; ok {
		t = t.Clone()
		s.before[id] = &t
		return
	}
	s.before[id] = nil
}

func (s *taskSet) put(t model.Task) {
	s.remember(t.ID)
	s.tasks[t.ID] = t
	s.dirty[t.ID] = struct{}{}
}

func (s *taskSet) drop(id model.TaskID) {
	s.remember(id)
	delete(s.tasks, id)
	s.dirty[id] = struct{}{}
}

// revert undoes every put and drop, for stores that mutate shared state
// before persisting it.
func (s *taskSet) revert() {
	for id, t := range s.before {
		if t == nil {
			delete(s.tasks, id)
		} else {
			s.tasks[id] = *t
		}
	}
	s.before = map[model.TaskID]*model.Task{}
	s.dirty = map[model.TaskID]struct{}{}
}

func (s *taskSet) live(id model.TaskID) (model.Task, error) {
	t, ok := s.tasks[id]
	if !ok || t.SoftDeleted {
		return model.Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *taskSet) create(in model.TaskCreate, now time.Time) (model.Task, error) {
	if err := in.Validate(); err != nil {
		return model.Task{}, err
	}
	t := in.Task()
	t.ID = newID()
	t.UserID = s.userID
	t.CreatedAt = now
	t.UpdatedAt = now
	s.put(t)
	return t.Clone(), nil
}

func (s *taskSet) update(id model.TaskID, p model.Patch, now time.Time) (model.Task, error) {
	if p.IsEmpty() {
		return model.Task{}, &model.ValidationError{Message: "no fields to update"}
	}
	if err := p.Validate(); err != nil {
		return model.Task{}, err
	}
	t, err := s.live(id)
	if err != nil {
		return model.Task{}, err
	}
	t = p.Apply(t)
	t.Title = strings.TrimSpace(t.Title)
	t.Touch(now)
	if err := t.Validate(); err != nil {
		return model.Task{}, err
	}
	s.put(t)
	return t.Clone(), nil
}

func (s *taskSet) toggle(id model.TaskID, now time.Time) (model.Task, error) {
	t, err := s.live(id)
	if err != nil {
		return model.Task{}, err
	}
	t.IsCompleted = !t.IsCompleted
	t.Touch(now)
	s.put(t)
	return t.Clone(), nil
}

func (s *taskSet) remove(id model.TaskID, now time.Time) error {
	t, err := s.live(id)
	if err != nil {
		return err
	}
	t.MarkDeleted(now)
	s.put(t)
	return nil
}

// requireAll fails with ErrNotOwned unless every id names a task of the
// user whose soft-deleted flag equals deleted.
func (s *taskSet) requireAll(ids []model.TaskID, deleted bool) error {
	var missing []model.TaskID
	for _, id := range ids {
		t, ok := s.tasks[id]
		if !ok || t.SoftDeleted != deleted {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return notOwned(missing)
	}
	return nil
}

func (s *taskSet) bulkUpdate(ids []model.TaskID, p model.Patch, now time.Time) (int, error) {
	ids = model.DedupIDs(ids)
	if len(ids) == 0 {
		return 0, &model.ValidationError{Field: "task_ids", Message: "at least one task id is required"}
	}
	if p.IsEmpty() {
		return 0, &model.ValidationError{Message: "no fields to update"}
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if err := s.requireAll(ids, false); err != nil {
		return 0, err
	}
	for _, id := range ids {
		t := p.Apply(s.tasks[id])
		t.Touch(now)
		s.put(t)
	}
	return len(ids), nil
}

func (s *taskSet) bulkDelete(ids []model.TaskID, now time.Time) (int, error) {
	ids = model.DedupIDs(ids)
	if len(ids) == 0 {
		return 0, &model.ValidationError{Field: "task_ids", Message: "at least one task id is required"}
	}
	if err := s.requireAll(ids, false); err != nil {
		return 0, err
	}
	for _, id := range ids {
		t := s.tasks[id].Clone()
		t.MarkDeleted(now)
		s.put(t)
	}
	return len(ids), nil
}

func (s *taskSet) restore(id model.TaskID, now time.Time) (model.Task, error) {
	t, ok := s.tasks[id]
	if !ok || !t.SoftDeleted {
		return model.Task{}, ErrNotFound
	}
	t = t.Clone()
	t.MarkRestored(now)
	s.put(t)
	return t.Clone(), nil
}

func (s *taskSet) restoreMany(ids []model.TaskID, now time.Time) (int, error) {
	ids = model.DedupIDs(ids)
	if len(ids) == 0 {
		return 0, &model.ValidationError{Field: "task_ids", Message: "at least one task id is required"}
	}
	if err := s.requireAll(ids, true); err != nil {
		return 0, err
	}
	for _, id := range ids {
		t := s.tasks[id].Clone()
		t.MarkRestored(now)
		s.put(t)
	}
	return len(ids), nil
}

func (s *taskSet) purge(before time.Time) int {
	n := 0
	for id, t := range s.tasks {
		if t.SoftDeleted && t.DeletedAt != nil && t.DeletedAt.Before(before) {
			s.drop(id)
			n++
		}
	}
	return n
}

func (s *taskSet) list(f model.Filter) model.Page {
	f = f.Normalize()
	var out []model.Task
	for _, t := range s.tasks {
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sortNewestFirst(out, func(t model.Task) time.Time { return t.CreatedAt })
	return paginate(out, f.Limit, f.Offset)
}

func (s *taskSet) trash(limit, offset int) model.Page {
	var out []model.Task
	for _, t := range s.tasks {
		if t.SoftDeleted {
			out = append(out, t.Clone())
		}
	}
	sortNewestFirst(out, func(t model.Task) time.Time {
		if t.DeletedAt == nil {
			return t.UpdatedAt
		}
		return *t.DeletedAt
	})
	f := model.Filter{Limit: limit, Offset: offset}.Normalize()
	return paginate(out, f.Limit, f.Offset)
}

func (s *taskSet) stats() model.Stats {
	var st model.Stats
	for _, t := range s.tasks {
		if t.SoftDeleted {
			continue
		}
		st.Total++
		if t.IsCompleted {
			st.Completed++
		}
	}
	st.Pending = st.Total - st.Completed
	return st
}

func sortNewestFirst(ts []model.Task, key func(model.Task) time.Time) {
	sort.Slice(ts, func(i, j int) bool {
		ki, kj := key(ts[i]), key(ts[j])
		if !ki.Equal(kj) {
			return ki.After(kj)
		}
		return ts[i].ID > ts[j].ID
	})
}

func paginate(ts []model.Task, limit, offset int) model.Page {
	page := model.Page{Tasks: []model.Task{}, Total: len(ts), Offset: offset}
	if offset >= len(ts) {
		return page
	}
	end := offset + limit
	if end > len(ts) {
		end = len(ts)
	}
	page.Tasks = ts[offset:end]
	return page
}

// setClock swaps the time source. Tests use it to get distinct timestamps.
func (r *FileRepo) setClock(now func() time.Time)     { r.now = now }
func (r *RedisRepo) setClock(now func() time.Time)    { r.now = now }
func (r *PostgresRepo) setClock(now func() time.Time) { r.now = now }

package task

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"taskhive/internal/model"
)

type fileState struct {
	Users map[string]map[model.TaskID]model.Task `json:"users"`
}

func newFileState() fileState {
	return fileState{Users: map[string]map[model.TaskID]model.Task{}}
}

type fileStore struct {
	mu   sync.RWMutex
	path string
	s    fileState
}

// FileRepo keeps every user's tasks in one JSON document (tasks.json).
// With an empty path nothing is written to disk; NewMemoryRepo uses that.
// It is user-scoped; call ForUser(userID) to get a scoped view.
type FileRepo struct {
	store  *fileStore
	userID string
	now    func() time.Time
}

var (
	_ Backend = (*FileRepo)(nil)
	_ Repo    = (*FileRepo)(nil)
)

func NewMemoryRepo() *FileRepo {
	return &FileRepo{
		store:  &fileStore{s: newFileState()},
		userID: "default",
		now:    time.Now,
	}
}

func NewFileRepo(dataDir string) (*FileRepo, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	st := &fileStore{
		path: filepath.Join(dataDir, "tasks.json"),
		s:    newFileState(),
	}
	if err := st.load(); err != nil {
		return nil, err
	}
	return &FileRepo{store: st, userID: "default", now: time.Now}, nil
}

func (s *fileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.s = newFileState()
			return nil
		}
		return err
	}

	var loaded fileState
	if err := json.Unmarshal(b, &loaded); err != nil {
		return err
	}
	if loaded.Users == nil {
		loaded.Users = map[string]map[model.TaskID]model.Task{}
	}
	s.s = loaded
	return nil
}

func (s *fileStore) saveLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(s.s, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (r *FileRepo) ForUser(userID string) Repo {
	return &FileRepo{store: r.store, userID: normalizeUser(userID), now: r.now}
}

func (r *FileRepo) Ping(context.Context) error { return nil }

func (r *FileRepo) Close() error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.saveLocked()
}

func (r *FileRepo) read(fn func(*taskSet)) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	fn(newTaskSet(r.userID, r.store.s.Users[r.userID]))
}

// write runs fn over the user's tasks and persists when it touched anything.
// If fn fails or the document cannot be saved, the in-memory tasks are put
// back the way they were.
func (r *FileRepo) write(fn func(*taskSet) error) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	tasks, ok := r.store.s.Users[r.userID]
	if !ok {
		tasks = map[model.TaskID]model.Task{}
	}
	set := newTaskSet(r.userID, tasks)
	if err := fn(set); err != nil {
		set.revert()
		return err
	}
	if len(set.dirty) == 0 {
		return nil
	}
	r.store.s.Users[r.userID] = set.tasks
	if err := r.store.saveLocked(); err != nil {
		set.revert()
		return err
	}
	return nil
}

func (r *FileRepo) Create(_ context.Context, in model.TaskCreate) (out model.Task, err error) {
	err = r.write(func(s *taskSet) error {
		out, err = s.create(in, r.now())
		return err
	})
	return out, err
}

func (r *FileRepo) Get(_ context.Context, id model.TaskID) (out model.Task, err error) {
	r.read(func(s *taskSet) { out, err = s.live(id) })
	return out, err
}

func (r *FileRepo) List(_ context.Context, f model.Filter) (out model.Page, _ error) {
	r.read(func(s *taskSet) { out = s.list(f) })
	return out, nil
}

func (r *FileRepo) Update(_ context.Context, id model.TaskID, p model.Patch) (out model.Task, err error) {
	err = r.write(func(s *taskSet) error {
		out, err = s.update(id, p, r.now())
		return err
	})
	return out, err
}

func (r *FileRepo) Toggle(_ context.Context, id model.TaskID) (out model.Task, err error) {
	err = r.write(func(s *taskSet) error {
		out, err = s.toggle(id, r.now())
		return err
	})
	return out, err
}

func (r *FileRepo) Delete(_ context.Context, id model.TaskID) error {
	return r.write(func(s *taskSet) error { return s.remove(id, r.now()) })
}

func (r *FileRepo) BulkUpdate(_ context.Context, ids []model.TaskID, p model.Patch) (n int, err error) {
	err = r.write(func(s *taskSet) error {
		n, err = s.bulkUpdate(ids, p, r.now())
		return err
	})
	return n, err
}

func (r *FileRepo) BulkDelete(_ context.Context, ids []model.TaskID) (n int, err error) {
	err = r.write(func(s *taskSet) error {
		n, err = s.bulkDelete(ids, r.now())
		return err
	})
	return n, err
}

func (r *FileRepo) ListTrash(_ context.Context, limit, offset int) (out model.Page, _ error) {
	r.read(func(s *taskSet) { out = s.trash(limit, offset) })
	return out, nil
}

func (r *FileRepo) Restore(_ context.Context, id model.TaskID) (out model.Task, err error) {
	err = r.write(func(s *taskSet) error {
		out, err = s.restore(id, r.now())
		return err
	})
	return out, err
}

func (r *FileRepo) RestoreMany(_ context.Context, ids []model.TaskID) (n int, err error) {
	err = r.write(func(s *taskSet) error {
		n, err = s.restoreMany(ids, r.now())
		return err
	})
	return n, err
}

func (r *FileRepo) PurgeTrash(_ context.Context, before time.Time) (n int, err error) {
	err = r.write(func(s *taskSet) error {
		n = s.purge(before)
		return nil
	})
	return n, err
}

func (r *FileRepo) PurgeAllTrash(_ context.Context, before time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	total := 0
	var sets []*taskSet
	for uid, tasks := range r.store.s.Users {
		set := newTaskSet(uid, tasks)
		total += set.purge(before)
		sets = append(sets, set)
	}
	if total == 0 {
		return 0, nil
	}
	if err := r.store.saveLocked(); err != nil {
		for _, set := range sets {
			set.revert()
		}
		return 0, err
	}
	return total, nil
}

func (r *FileRepo) Stats(_ context.Context) (out model.Stats, _ error) {
	r.read(func(s *taskSet) { out = s.stats() })
	return out, nil
}

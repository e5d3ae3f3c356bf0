package taskcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskhive/internal/model"
	"taskhive/pkg/taskapi"
)

// gate parks the next call of one API method until the test releases it.
type gate struct {
	entered chan struct{}
	release chan error
}

// fakeAPI is an in-memory Task API. Calls can be parked with hold or failed
// with failNext.
type fakeAPI struct {
	mu      sync.Mutex
	tasks   []model.Task
	gates   map[string][]*gate
	fails   map[string]error
	calls   map[string]int
	listFor func(model.Filter) []model.Task
	now     time.Time
	nextID  int
}

func newFakeAPI(tasks ...model.Task) *fakeAPI {
	return &fakeAPI{
		tasks: tasks,
		gates: map[string][]*gate{},
		fails: map[string]error{},
		calls: map[string]int{},
		now:   time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeAPI) hold(method string) *gate {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &gate{entered: make(chan struct{}), release: make(chan error, 1)}
	f.gates[method] = append(f.gates[method], g)
	return g
}

func (f *fakeAPI) failNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails[method] = err
}

func (f *fakeAPI) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeAPI) wait(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls[method]++
	var g *gate
	if q := f.gates[method]; len(q) > 0 {
		g, f.gates[method] = q[0], q[1:]
	}
	err := f.fails[method]
	delete(f.fails, method)
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if g == nil {
		return nil
	}
	close(g.entered)
	select {
	case err := <-g.release:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", taskapi.ErrTransport, ctx.Err())
	}
}

func (f *fakeAPI) indexLocked(id model.TaskID) int {
	for i, t := range f.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (f *fakeAPI) List(ctx context.Context, flt model.Filter) (model.Page, error) {
	if err := f.wait(ctx, "list"); err != nil {
		return model.Page{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listFor != nil {
		out := f.listFor(flt)
		return model.Page{Tasks: out, Total: len(out)}, nil
	}
	var out []model.Task
	for _, t := range f.tasks {
		if flt.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	return model.Page{Tasks: out, Total: len(out)}, nil
}

func (f *fakeAPI) Create(ctx context.Context, in model.TaskCreate) (model.Task, error) {
	if err := f.wait(ctx, "create"); err != nil {
		return model.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t := in.Task()
	t.ID = model.TaskID(fmt.Sprintf("new-%d", f.nextID))
	t.CreatedAt, t.UpdatedAt = f.now, f.now
	f.tasks = append([]model.Task{t}, f.tasks...)
	return t.Clone(), nil
}

func (f *fakeAPI) Update(ctx context.Context, id model.TaskID, p model.Patch) (model.Task, error) {
	if err := f.wait(ctx, "update"); err != nil {
		return model.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexLocked(id)
	if i < 0 {
		return model.Task{}, &taskapi.APIError{Method: "PATCH", Path: "/api/tasks/" + string(id), Status: 404}
	}
	f.tasks[i] = p.Apply(f.tasks[i])
	return f.tasks[i].Clone(), nil
}

func (f *fakeAPI) Toggle(ctx context.Context, id model.TaskID) (model.Task, error) {
	if err := f.wait(ctx, "toggle"); err != nil {
		return model.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexLocked(id)
	if i < 0 {
		return model.Task{}, &taskapi.APIError{Method: "PATCH", Path: "/api/tasks/" + string(id) + "/toggle", Status: 404}
	}
	f.tasks[i].IsCompleted = !f.tasks[i].IsCompleted
	return f.tasks[i].Clone(), nil
}

func (f *fakeAPI) Delete(ctx context.Context, id model.TaskID) error {
	if err := f.wait(ctx, "delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexLocked(id)
	if i < 0 {
		return &taskapi.APIError{Method: "DELETE", Path: "/api/tasks/" + string(id), Status: 404}
	}
	f.tasks[i].MarkDeleted(f.now)
	return nil
}

func (f *fakeAPI) BulkUpdate(ctx context.Context, req model.BulkUpdateRequest) (model.BulkResult, error) {
	if err := f.wait(ctx, "bulk_update"); err != nil {
		return model.BulkResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := req.Patch()
	res := model.BulkResult{Success: true}
	for _, id := range req.TaskIDs {
		if i := f.indexLocked(id); i >= 0 {
			f.tasks[i] = p.Apply(f.tasks[i])
			res.UpdatedCount++
		}
	}
	return res, nil
}

func (f *fakeAPI) BulkDelete(ctx context.Context, ids []model.TaskID) (model.BulkResult, error) {
	if err := f.wait(ctx, "bulk_delete"); err != nil {
		return model.BulkResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	res := model.BulkResult{Success: true}
	for _, id := range ids {
		if i := f.indexLocked(id); i >= 0 {
			f.tasks[i].MarkDeleted(f.now)
			res.DeletedCount++
		}
	}
	return res, nil
}

func (f *fakeAPI) Restore(ctx context.Context, id model.TaskID) (model.Task, error) {
	if err := f.wait(ctx, "restore"); err != nil {
		return model.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexLocked(id)
	if i < 0 || !f.tasks[i].SoftDeleted {
		return model.Task{}, &taskapi.APIError{Method: "POST", Path: "/api/trash/" + string(id) + "/restore", Status: 404}
	}
	f.tasks[i].MarkRestored(f.now)
	return f.tasks[i].Clone(), nil
}

func task(id, title string) model.Task {
	return model.Task{ID: model.TaskID(id), Title: title, Priority: model.PriorityMedium}
}

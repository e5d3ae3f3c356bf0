package taskcache

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"taskhive/internal/model"
	"taskhive/internal/optimistic"
	"taskhive/internal/selection"
	"taskhive/internal/stats"
	"taskhive/pkg/taskapi"
)

// API is the subset of the Task API the coordinator calls. *taskapi.Client
// implements it.
type API interface {
	List(ctx context.Context, f model.Filter) (model.Page, error)
	Create(ctx context.Context, in model.TaskCreate) (model.Task, error)
	Update(ctx context.Context, id model.TaskID, p model.Patch) (model.Task, error)
	Toggle(ctx context.Context, id model.TaskID) (model.Task, error)
	Delete(ctx context.Context, id model.TaskID) error
	BulkUpdate(ctx context.Context, req model.BulkUpdateRequest) (model.BulkResult, error)
	BulkDelete(ctx context.Context, ids []model.TaskID) (model.BulkResult, error)
	Restore(ctx context.Context, id model.TaskID) (model.Task, error)
}

type Kind string

const (
	KindCreate     Kind = "create"
	KindUpdate     Kind = "update"
	KindToggle     Kind = "toggle"
	KindDelete     Kind = "delete"
	KindBulkUpdate Kind = "bulk_update"
	KindBulkDelete Kind = "bulk_delete"
	KindRestore    Kind = "restore"
)

// State is where a mutation is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateOptimistic
	StateSettling
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOptimistic:
		return "optimistic"
	case StateSettling:
		return "settling"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	}
	return "unknown"
}

// Settlement is passed to Options.OnSettle once a mutation has committed or
// rolled back. Stats is computed from the cache after settling.
type Settlement struct {
	Op      Kind
	IDs     []model.TaskID
	Outcome State
	Err     error
	Stats   model.Stats
	Version uint64
}

// SelectionPolicy says what a bulk-on-selection call does with the selection
// once the mutation settles.
type SelectionPolicy int

const (
	// ClearAfterSettle clears on success and on failure.
	ClearAfterSettle SelectionPolicy = iota
	ClearOnSuccess
	KeepSelection
)

type Options struct {
	Logger   *log.Logger
	OnSettle func(Settlement)
	// SkipRefetch disables the list refetch that follows each commit.
	SkipRefetch bool
}

type taskPatches = optimistic.Store[model.TaskID, model.Task, model.Patch]

// Coordinator runs mutations against the API with optimistic local effect.
// All methods are safe for concurrent use; network calls are made without any
// lock held.
type Coordinator struct {
	api     API
	cache   *Cache
	patches *taskPatches
	sel     *selection.Tracker[model.TaskID]
	logger  *log.Logger
	opts    Options

	mu     sync.RWMutex
	filter model.Filter
}

func NewCoordinator(api API, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Coordinator{
		api:     api,
		cache:   New(),
		patches: optimistic.New[model.TaskID, model.Task, model.Patch](func(t model.Task) model.TaskID { return t.ID }),
		sel:     selection.New[model.TaskID](),
		logger:  logger,
		opts:    opts,
		filter:  model.Filter{}.Normalize(),
	}
}

func (c *Coordinator) Cache() *Cache { return c.cache }

func (c *Coordinator) Selection() *selection.Tracker[model.TaskID] { return c.sel }

func (c *Coordinator) Filter() model.Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

// Tasks is the visible list including in-flight optimistic changes.
func (c *Coordinator) Tasks() []model.Task { return c.cache.Tasks() }

// View is Tasks with pending patches overlaid.
func (c *Coordinator) View() []model.Task {
	tasks := c.cache.Tasks()
	for i, t := range tasks {
		tasks[i] = c.patches.Overlay(t)
	}
	return tasks
}

func (c *Coordinator) Stats() model.Stats { return stats.Compute(c.cache.Tasks()) }

// SelectAllState reports the header checkbox state for the visible list.
func (c *Coordinator) SelectAllState() stats.SelectAll {
	tasks := c.cache.Tasks()
	ids := make([]model.TaskID, 0, len(tasks))
	n := 0
	for _, t := range tasks {
		ids = append(ids, t.ID)
		if c.sel.IsSelected(t.ID) {
			n++
		}
	}
	return stats.SelectAllState(n, ids)
}

// Pending reports whether id has an unconfirmed patch.
func (c *Coordinator) Pending(id model.TaskID) bool { return c.patches.Has(id) }

// Load replaces the filter and fetches the list under it.
func (c *Coordinator) Load(ctx context.Context, f model.Filter) error {
	f = f.Normalize()
	c.mu.Lock()
	c.filter = f
	seq := c.cache.BeginFetch()
	c.mu.Unlock()
	return c.fetch(ctx, f, seq)
}

func (c *Coordinator) SetFilter(ctx context.Context, f model.Filter) error { return c.Load(ctx, f) }

// Refetch reloads the list under the active filter.
func (c *Coordinator) Refetch(ctx context.Context) error {
	// filter and sequence number are read together; see Load
	c.mu.Lock()
	f := c.filter
	seq := c.cache.BeginFetch()
	c.mu.Unlock()
	return c.fetch(ctx, f, seq)
}

func (c *Coordinator) fetch(ctx context.Context, f model.Filter, seq uint64) error {
	page, err := c.api.List(ctx, f)
	if err != nil {
		return err
	}
	if !c.cache.Replace(seq, page.Tasks) {
		c.logger.Debug("dropped stale list response", "seq", seq)
	}
	return nil
}

func (c *Coordinator) Create(ctx context.Context, in model.TaskCreate) (model.Task, error) {
	if err := in.Validate(); err != nil {
		return model.Task{}, err
	}
	t, err := c.api.Create(ctx, in)
	if err != nil {
		c.settle(ctx, KindCreate, nil, err)
		return model.Task{}, err
	}
	c.show(t)
	c.settle(ctx, KindCreate, []model.TaskID{t.ID}, nil)
	return t, nil
}

// Update merges p into the cached task, then confirms with the server.
func (c *Coordinator) Update(ctx context.Context, id model.TaskID, p model.Patch) (model.Task, error) {
	if p.IsEmpty() {
		return model.Task{}, &model.ValidationError{Message: "no fields to update"}
	}
	if err := p.Validate(); err != nil {
		return model.Task{}, err
	}
	return c.single(ctx, KindUpdate, id, p, func(ctx context.Context) (model.Task, error) {
		return c.api.Update(ctx, id, p)
	})
}

// Toggle flips is_completed. The target value is fixed when the call starts,
// so two toggles always return the task to where it began.
func (c *Coordinator) Toggle(ctx context.Context, id model.TaskID) (model.Task, error) {
	cur, ok := c.cache.Get(id)
	if !ok {
		// Nothing to show optimistically; let the server decide.
		t, err := c.api.Toggle(ctx, id)
		c.settle(ctx, KindToggle, []model.TaskID{id}, err)
		return t, err
	}
	next := !cur.IsCompleted
	return c.single(ctx, KindToggle, id, model.Patch{IsCompleted: &next}, func(ctx context.Context) (model.Task, error) {
		return c.api.Toggle(ctx, id)
	})
}

func (c *Coordinator) single(ctx context.Context, kind Kind, id model.TaskID, p model.Patch, call func(context.Context) (model.Task, error)) (model.Task, error) {
	ids := []model.TaskID{id}
	op := c.cache.Begin(SetFields(ids, p))
	release := c.patches.Hold(id, p)

	op.Settling()
	t, err := call(ctx)
	release()
	if err == nil && t.ID != id {
		err = fmt.Errorf("%w: response for task %q, want %q", taskapi.ErrTransport, t.ID, id)
	}
	if err != nil {
		op.Rollback()
		c.settle(ctx, kind, ids, err)
		return model.Task{}, err
	}
	op.Commit(Replace(t))
	c.settle(ctx, kind, ids, nil)
	return t, nil
}

// Delete removes the task locally and soft-deletes it on the server. The
// selection is left alone.
func (c *Coordinator) Delete(ctx context.Context, id model.TaskID) error {
	if id == "" {
		return &model.ValidationError{Field: "id", Message: "is required"}
	}
	ids := []model.TaskID{id}
	op := c.cache.Begin(Remove(ids))
	op.Settling()
	if err := c.api.Delete(ctx, id); err != nil {
		op.Rollback()
		c.settle(ctx, KindDelete, ids, err)
		return err
	}
	op.Commit(nil)
	c.settle(ctx, KindDelete, ids, nil)
	return nil
}

// BulkUpdate sets one field on every listed task. A partial failure reported
// by the server rolls back the whole local change.
func (c *Coordinator) BulkUpdate(ctx context.Context, req model.BulkUpdateRequest) (model.BulkResult, error) {
	req.TaskIDs = model.DedupIDs(req.TaskIDs)
	if err := req.Validate(); err != nil {
		return model.BulkResult{}, err
	}
	p := req.Patch()
	op := c.cache.Begin(SetFields(req.TaskIDs, p))
	releases := make([]func(), 0, len(req.TaskIDs))
	for _, id := range req.TaskIDs {
		releases = append(releases, c.patches.Hold(id, p))
	}

	op.Settling()
	res, err := c.api.BulkUpdate(ctx, req)
	for _, release := range releases {
		release()
	}
	if err != nil {
		op.Rollback()
		c.settle(ctx, KindBulkUpdate, req.TaskIDs, err)
		return res, err
	}
	op.Commit(nil)
	c.settle(ctx, KindBulkUpdate, req.TaskIDs, nil)
	return res, nil
}

func (c *Coordinator) BulkDelete(ctx context.Context, ids []model.TaskID) (model.BulkResult, error) {
	req := model.BulkIDsRequest{TaskIDs: model.DedupIDs(ids)}
	if err := req.Validate(); err != nil {
		return model.BulkResult{}, err
	}
	op := c.cache.Begin(Remove(req.TaskIDs))
	op.Settling()
	res, err := c.api.BulkDelete(ctx, req.TaskIDs)
	if err != nil {
		op.Rollback()
		c.settle(ctx, KindBulkDelete, req.TaskIDs, err)
		return res, err
	}
	op.Commit(nil)
	c.settle(ctx, KindBulkDelete, req.TaskIDs, nil)
	return res, nil
}

// BulkUpdateSelected runs BulkUpdate over the current selection.
func (c *Coordinator) BulkUpdateSelected(ctx context.Context, typ model.BulkUpdateType, params model.BulkParams, policy SelectionPolicy) (model.BulkResult, error) {
	res, err := c.BulkUpdate(ctx, model.BulkUpdateRequest{
		TaskIDs:    c.sel.IDs(),
		UpdateType: typ,
		Params:     params,
	})
	c.applyPolicy(policy, err)
	return res, err
}

func (c *Coordinator) BulkDeleteSelected(ctx context.Context, policy SelectionPolicy) (model.BulkResult, error) {
	res, err := c.BulkDelete(ctx, c.sel.IDs())
	c.applyPolicy(policy, err)
	return res, err
}

func (c *Coordinator) applyPolicy(policy SelectionPolicy, err error) {
	switch policy {
	case ClearAfterSettle:
		c.sel.DeselectAll()
	case ClearOnSuccess:
		if err == nil {
			c.sel.DeselectAll()
		}
	}
}

// Restore brings a soft-deleted task back and shows it if it matches the
// active filter.
func (c *Coordinator) Restore(ctx context.Context, id model.TaskID) (model.Task, error) {
	if id == "" {
		return model.Task{}, &model.ValidationError{Field: "id", Message: "is required"}
	}
	t, err := c.api.Restore(ctx, id)
	if err != nil {
		c.settle(ctx, KindRestore, []model.TaskID{id}, err)
		return model.Task{}, err
	}
	c.show(t)
	c.settle(ctx, KindRestore, []model.TaskID{id}, nil)
	return t, nil
}

// show puts a task the server just created or restored at the top of the
// list. Only the first page can gain it; later pages wait for a refetch.
func (c *Coordinator) show(t model.Task) {
	f := c.Filter()
	if f.Offset > 0 || !f.Matches(t) {
		return
	}
	c.cache.Apply(Put(t, f.Limit))
}

func (c *Coordinator) settle(ctx context.Context, kind Kind, ids []model.TaskID, err error) {
	outcome := StateCommitted
	if err != nil {
		outcome = StateRolledBack
		c.logger.Debug("mutation rolled back", "op", kind, "ids", len(ids), "err", err)
	} else if !c.opts.SkipRefetch {
		if ferr := c.Refetch(ctx); ferr != nil {
			c.logger.Warn("refetch after commit failed", "op", kind, "err", ferr)
		}
	}

	if c.opts.OnSettle == nil {
		return
	}
	c.opts.OnSettle(Settlement{
		Op:      kind,
		IDs:     ids,
		Outcome: outcome,
		Err:     err,
		Stats:   c.Stats(),
		Version: c.cache.Version(),
	})
}

// Package taskcache holds the client-side view of a user's task list and the
// coordinator that runs optimistic mutations against it.
package taskcache

import (
	"sync"

	"taskhive/internal/model"
)

// Transform derives a new task list from an old one. It must not modify its
// input.
type Transform func([]model.Task) []model.Task

// Cache is a confirmed base list plus an ordered log of in-flight transforms.
// The visible list is the base with every pending transform replayed in the
// order the operations began.
type Cache struct {
	mu sync.RWMutex

	base    []model.Task
	log     []*Op
	visible []model.Task
	version uint64

	fetchSeq   uint64 // last issued
	appliedSeq uint64 // last accepted by Replace
	minSeq     uint64 // fetches issued before the last commit are stale
}

func New() *Cache {
	return &Cache{}
}

// Tasks returns a copy of the visible list.
func (c *Cache) Tasks() []model.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneTasks(c.visible)
}

// Version increases on every change to the visible list.
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.visible)
}

func (c *Cache) Get(id model.TaskID) (model.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.visible {
		if t.ID == id {
			return t.Clone(), true
		}
	}
	return model.Task{}, false
}

// InFlight is the number of operations that have begun and not settled.
func (c *Cache) InFlight() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.log)
}

// Begin snapshots the visible list, appends fn to the log and makes its
// effect visible. The returned Op must be settled with Commit or Rollback.
func (c *Cache) Begin(fn Transform) *Op {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := &Op{cache: c, fn: fn, previous: cloneTasks(c.visible), state: StateOptimistic}
	c.log = append(c.log, op)
	c.visible = fn(c.visible)
	c.version++
	return op
}

// BeginFetch issues a sequence number for a list request. Pass it to Replace
// with the response.
func (c *Cache) BeginFetch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchSeq++
	return c.fetchSeq
}

// Replace installs tasks as the new confirmed base and replays the pending
// log on top. It reports false, and changes nothing, when a newer response
// has already been applied or an operation committed after seq was issued.
func (c *Cache) Replace(seq uint64, tasks []model.Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq <= c.appliedSeq || seq < c.minSeq {
		return false
	}
	c.appliedSeq = seq
	c.base = cloneTasks(tasks)
	c.replayLocked()
	return true
}

// Apply changes the confirmed base directly, for results that never had an
// optimistic phase (create, restore).
func (c *Cache) Apply(fn Transform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = fn(c.base)
	c.replayLocked()
}

func (c *Cache) replayLocked() {
	v := c.base
	for _, op := range c.log {
		v = op.fn(v)
	}
	c.visible = v
	c.version++
}

func (c *Cache) removeLocked(op *Op) bool {
	for i, o := range c.log {
		if o == op {
			c.log = append(c.log[:i:i], c.log[i+1:]...)
			return true
		}
	}
	return false
}

// Op is one in-flight transform.
type Op struct {
	cache    *Cache
	fn       Transform
	previous []model.Task
	state    State
}

func (o *Op) State() State {
	o.cache.mu.RLock()
	defer o.cache.mu.RUnlock()
	return o.state
}

// Settling marks the op as waiting on the server.
func (o *Op) Settling() {
	o.cache.mu.Lock()
	defer o.cache.mu.Unlock()
	if o.state == StateOptimistic {
		o.state = StateSettling
	}
}

// Previous is the visible list as it was just before the op began.
func (o *Op) Previous() []model.Task {
	return cloneTasks(o.previous)
}

// Commit folds the op into the confirmed base. If confirm is non-nil it is
// applied to the base instead of the optimistic transform, so server values
// win. Settling twice is a no-op.
func (o *Op) Commit(confirm Transform) {
	c := o.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.removeLocked(o) {
		return
	}
	o.state = StateCommitted
	fn := o.fn
	if confirm != nil {
		fn = confirm
	}
	c.base = fn(c.base)
	c.minSeq = c.fetchSeq + 1
	c.replayLocked()
}

// Rollback discards the op and replays the remaining log. With no other op in
// flight the visible list equals Previous.
func (o *Op) Rollback() {
	c := o.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.removeLocked(o) {
		return
	}
	o.state = StateRolledBack
	c.replayLocked()
}

func cloneTasks(in []model.Task) []model.Task {
	out := make([]model.Task, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}

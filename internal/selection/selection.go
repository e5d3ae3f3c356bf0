// Package selection tracks which entity ids are marked for a bulk action.
package selection

import "sync"

// Tracker is a set of ids with stable insertion order. Membership is not tied
// to any cache: an id stays selected after it leaves the current view until
// the caller deselects it.
type Tracker[K comparable] struct {
	mu    sync.RWMutex
	order []K
	set   map[K]struct{}
}

func New[K comparable]() *Tracker[K] {
	return &Tracker[K]{set: map[K]struct{}{}}
}

func (t *Tracker[K]) IsSelected(id K) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.set[id]
	return ok
}

func (t *Tracker[K]) Toggle(id K) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.set[id]; ok {
		delete(t.set, id)
		t.order = without(t.order, id)
		return
	}
	t.set[id] = struct{}{}
	t.order = append(t.order, id)
}

// SelectAll replaces the selection with exactly ids (duplicates dropped).
func (t *Tracker[K]) SelectAll(ids []K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replaceLocked(ids)
}

func (t *Tracker[K]) DeselectAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	t.set = map[K]struct{}{}
}

// ToggleSelectAll clears the selection when it already equals allIDs as a set,
// otherwise selects exactly allIDs.
func (t *Tracker[K]) ToggleSelectAll(allIDs []K) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.equalsLocked(allIDs) {
		t.order = nil
		t.set = map[K]struct{}{}
		return
	}
	t.replaceLocked(allIDs)
}

// AllSelected drives the "select all" checkbox: true when something is
// selected and the selection is exactly allIDs.
func (t *Tracker[K]) AllSelected(allIDs []K) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.set) > 0 && t.equalsLocked(allIDs)
}

func (t *Tracker[K]) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.set)
}

// IDs returns the selected ids in the order they were selected.
func (t *Tracker[K]) IDs() []K {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]K(nil), t.order...)
}

func (t *Tracker[K]) replaceLocked(ids []K) {
	t.order = make([]K, 0, len(ids))
	t.set = make(map[K]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := t.set[id]; ok {
			continue
		}
		t.set[id] = struct{}{}
		t.order = append(t.order, id)
	}
}

func (t *Tracker[K]) equalsLocked(ids []K) bool {
	distinct := make(map[K]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := t.set[id]; !ok {
			return false
		}
		distinct[id] = struct{}{}
	}
	return len(distinct) == len(t.set)
}

func without[K comparable](ids []K, drop K) []K {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

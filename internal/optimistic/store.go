// Package optimistic tracks field-level patches that have been applied locally
// but not yet confirmed by the server.
package optimistic

import (
	"context"
	"errors"
	"sync"
)

// Patch is a partial update of T that can be stacked onto another patch.
type Patch[T any, P any] interface {
	Apply(T) T
	Merge(P) P
}

type Options[T any, P any] struct {
	// Update performs the confirming call and returns the server's version.
	Update func(ctx context.Context, item T, patch P) (T, error)
	// Rollback, if set, runs after a failed Update.
	Rollback func(original T)
}

type Result[T any] struct {
	Value T
	Err   error
}

var ErrNoUpdate = errors.New("optimistic: Update func is required")

type entry[P any] struct {
	patch P
	refs  int
}

// Store holds at most one merged patch per id. Each in-flight operation holds a
// reference; the patch is dropped when the last holder for that id settles.
type Store[K comparable, T any, P Patch[T, P]] struct {
	mu      sync.RWMutex
	key     func(T) K
	pending map[K]*entry[P]
}

func New[K comparable, T any, P Patch[T, P]](key func(T) K) *Store[K, T, P] {
	return &Store[K, T, P]{
		key:     key,
		pending: map[K]*entry[P]{},
	}
}

// Hold merges patch into the pending entry for id and returns a release func.
// Calling release more than once is a no-op.
func (s *Store[K, T, P]) Hold(id K, patch P) (release func()) {
	s.mu.Lock()
	e, ok := s.pending[id]
	if ok {
		e.patch = e.patch.Merge(patch)
		e.refs++
	} else {
		e = &entry[P]{patch: patch, refs: 1}
		s.pending[id] = e
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			// A Clear followed by a new Hold replaces the entry; an old
			// holder must not release the new one.
			if cur, ok := s.pending[id]; ok && cur == e {
				e.refs--
				if e.refs <= 0 {
					delete(s.pending, id)
				}
			}
		})
	}
}

// Start brackets opts.Update with apply/clear of patch. On failure the patch is
// released, opts.Rollback runs, and Update's error is returned unchanged.
func (s *Store[K, T, P]) Start(ctx context.Context, item T, patch P, opts Options[T, P]) (T, error) {
	var zero T
	if opts.Update == nil {
		return zero, ErrNoUpdate
	}

	release := s.Hold(s.key(item), patch)
	out, err := opts.Update(ctx, item, patch)
	release()

	if err != nil {
		if opts.Rollback != nil {
			opts.Rollback(item)
		}
		return zero, err
	}
	return out, nil
}

// Go runs Start on its own goroutine. The patch is held before Go returns.
func (s *Store[K, T, P]) Go(ctx context.Context, item T, patch P, opts Options[T, P]) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	if opts.Update == nil {
		ch <- Result[T]{Err: ErrNoUpdate}
		close(ch)
		return ch
	}

	release := s.Hold(s.key(item), patch)
	go func() {
		defer close(ch)
		out, err := s.Start(ctx, item, patch, opts)
		release()
		ch <- Result[T]{Value: out, Err: err}
	}()
	return ch
}

// Overlay returns item with any pending patch applied.
func (s *Store[K, T, P]) Overlay(item T) T {
	s.mu.RLock()
	e, ok := s.pending[s.key(item)]
	s.mu.RUnlock()
	if !ok {
		return item
	}
	return e.patch.Apply(item)
}

func (s *Store[K, T, P]) Get(id K) (P, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.pending[id]
	if !ok {
		var zero P
		return zero, false
	}
	return e.patch, true
}

func (s *Store[K, T, P]) Has(id K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pending[id]
	return ok
}

// Clear drops the entry for id regardless of how many holders remain.
func (s *Store[K, T, P]) Clear(id K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

func (s *Store[K, T, P]) Pending() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]K, 0, len(s.pending))
	for id := range s.pending {
		out = append(out, id)
	}
	return out
}

package integration

import "sync"

// Disposable is a registration that can be torn down.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a function to Disposable.
type DisposeFunc func()

// Dispose calls f.
func (f DisposeFunc) Dispose() {
	if f != nil {
		f()
	}
}

// Disposables collects registrations so they can be torn down together.
//
// DisposeAll tears down in reverse registration order and leaves the set
// empty and reusable, which is what a rebuild cycle needs: dispose everything
// from the previous build, then register the new one.
type Disposables struct {
	mu    sync.Mutex
	items []Disposable
}

// Add registers items. Nil items are ignored.
func (s *Disposables) Add(items ...Disposable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range items {
		if d != nil {
			s.items = append(s.items, d)
		}
	}
}

// DisposeAll disposes every registered item.
//
// Items are detached before disposal, so a panicking Dispose cannot leave
// stale entries behind, and a Dispose that re-enters Add is safe.
func (s *Disposables) DisposeAll() {
	s.mu.Lock()
	items := s.items
	s.items = nil
	s.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		func() {
			defer func() { _ = recover() }()
			items[i].Dispose()
		}()
	}
}

// Len returns the number of live registrations.
func (s *Disposables) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

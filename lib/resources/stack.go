package resources

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/onkernel/iconograph/lib/logger"
)

// ReleaseFunc tears down one acquired resource
type ReleaseFunc func(ctx context.Context) error

type entry struct {
	name    string
	release ReleaseFunc
}

// Stack is an ordered ledger of acquired resources (mounts, temp dirs).
// ReleaseAll tears them down in reverse acquisition order.
type Stack struct {
	mu      sync.Mutex
	entries []entry
}

// NewStack creates an empty resource stack
func NewStack() *Stack {
	return &Stack{}
}

// Acquire registers a resource and its teardown action
func (s *Stack) Acquire(name string, release ReleaseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{name: name, release: release})
}

// Len returns the number of resources still held
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Names returns the held resource names in acquisition order
func (s *Stack) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.name
	}
	return names
}

// ReleaseAll runs every registered teardown in LIFO order.
// A failing teardown does not stop the remaining ones; all failures are
// joined into the returned error. The stack is empty afterwards.
func (s *Stack) ReleaseAll(ctx context.Context) error {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	log := logger.FromContext(ctx)

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		log.DebugContext(ctx, "releasing resource", "resource", e.name)
		if err := e.release(ctx); err != nil {
			log.ErrorContext(ctx, "failed to release resource", "resource", e.name, "error", err)
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrReleaseFailed, e.name, err))
		}
	}
	return errors.Join(errs...)
}

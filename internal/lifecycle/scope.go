package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/Iron-Ham/coms/internal/errors"
)

// Owner is anything that can notify a callback once when it ends.
// Callbacks registered after the owner has ended must run immediately.
type Owner interface {
	OnDestroy(fn func())
}

// Bind arranges for release to run when owner is destroyed.
// A nil owner or nil release is a no-op.
func Bind(owner Owner, release func()) {
	if owner == nil || release == nil {
		return
	}
	owner.OnDestroy(release)
}

// Scope is an explicitly destroyed Owner. Scopes form a tree: destroying a
// scope destroys all of its children.
type Scope struct {
	id     string
	name   string
	parent *Scope

	mu        sync.Mutex
	callbacks []func()
	children  []*Scope
	destroyed bool
	done      chan struct{}
}

// NewScope creates a root scope.
func NewScope(name string) *Scope {
	return &Scope{
		id:   uuid.NewString(),
		name: name,
		done: make(chan struct{}),
	}
}

// ID returns the scope's unique identifier.
func (s *Scope) ID() string { return s.id }

// Name returns the name the scope was created with.
func (s *Scope) Name() string { return s.name }

// Parent returns the parent scope, or nil for a root.
func (s *Scope) Parent() *Scope { return s.parent }

// NewChild creates a scope that is destroyed along with s.
// If s is already destroyed the child is returned destroyed.
func (s *Scope) NewChild(name string) *Scope {
	child := NewScope(name)
	child.parent = s

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		_ = child.Destroy()
		return child
	}
	s.children = append(s.children, child)
	s.mu.Unlock()
	return child
}

// OnDestroy registers fn to run when the scope is destroyed.
// If the scope is already destroyed fn runs before OnDestroy returns.
func (s *Scope) OnDestroy(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		fn()
		return
	}
	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

// Destroy ends the scope. Callbacks run once, in registration order, then
// children are destroyed depth-first. A panicking callback does not stop the
// others; the recovered panics are joined into the returned error.
// Calling Destroy again returns nil and does nothing.
func (s *Scope) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	callbacks := s.callbacks
	children := s.children
	s.callbacks = nil
	s.children = nil
	s.mu.Unlock()

	close(s.done)
	s.detach()

	var errs []error
	for _, fn := range callbacks {
		if err := s.invoke(fn); err != nil {
			errs = append(errs, err)
		}
	}
	for _, child := range children {
		if err := child.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// detach removes s from its parent so a long-lived parent does not hold
// on to destroyed children.
func (s *Scope) detach() {
	p := s.parent
	if p == nil {
		return
	}
	p.mu.Lock()
	p.children = slices.DeleteFunc(p.children, func(c *Scope) bool { return c == s })
	p.mu.Unlock()
}

// Destroyed reports whether Destroy has been called.
func (s *Scope) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Done returns a channel closed when the scope is destroyed.
func (s *Scope) Done() <-chan struct{} {
	return s.done
}

// String returns "name(id)" for logs.
func (s *Scope) String() string {
	return fmt.Sprintf("%s(%s)", s.name, s.id)
}

func (s *Scope) invoke(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scope %s: destroy callback panicked: %v", s.name, r)
		}
	}()
	fn()
	return nil
}

// FromContext returns an Owner that is destroyed when ctx is done.
func FromContext(ctx context.Context) Owner {
	s := NewScope("context")
	context.AfterFunc(ctx, func() {
		_ = s.Destroy()
	})
	return s
}

package updatemgr

import (
	"sync"
	"time"
)

// Variable is a named, externally observed value. Decisions never read a
// Variable directly; they go through an EvaluationContext, which snapshots
// the value for the duration of one decision call and can register interest
// in changes.
type Variable interface {
	Name() string
	// Value returns the current value, or an error when the underlying
	// provider cannot supply one.
	Value() (any, error)
	// Watch registers fn to run whenever the value changes and returns a
	// function that removes the registration. Polled-only variables may
	// return a no-op.
	Watch(fn func()) (stop func())
	// SnapshotTTL bounds how long a snapshotted value stays fresh within one
	// evaluation; zero keeps it for the whole evaluation.
	SnapshotTTL() time.Duration
}

// Observable is a Variable holding a settable value and notifying watchers
// on change. It is the building block for the in-memory providers.
type Observable[T any] struct {
	name string
	ttl  time.Duration

	mu       sync.RWMutex
	value    T
	err      error
	watchers map[int]func()
	nextID   int
}

func NewObservable[T any](name string, initial T) *Observable[T] {
	return &Observable[T]{
		name:     name,
		value:    initial,
		watchers: make(map[int]func()),
	}
}

// NewUnavailable returns an Observable whose value cannot be read until Set
// is called.
func NewUnavailable[T any](name string) *Observable[T] {
	o := NewObservable[T](name, *new(T))
	o.err = ErrVariableUnavailable
	return o
}

// WithSnapshotTTL sets the per-evaluation snapshot freshness bound.
func (o *Observable[T]) WithSnapshotTTL(ttl time.Duration) *Observable[T] {
	o.ttl = ttl
	return o
}

func (o *Observable[T]) Name() string {
	return o.name
}

func (o *Observable[T]) SnapshotTTL() time.Duration {
	return o.ttl
}

func (o *Observable[T]) Value() (any, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.err != nil {
		return nil, o.err
	}
	return o.value, nil
}

// Get returns the typed value without going through an EvaluationContext.
// Intended for callers that own the Observable, not for decisions.
func (o *Observable[T]) Get() (T, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.value, o.err
}

// Set updates the value and notifies watchers.
func (o *Observable[T]) Set(value T) {
	o.mu.Lock()
	o.value = value
	o.err = nil
	watchers := make([]func(), 0, len(o.watchers))
	for _, fn := range o.watchers {
		watchers = append(watchers, fn)
	}
	o.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
}

// SetUnavailable marks the value unreadable. Watchers are notified so that a
// deferred decision can re-evaluate once availability changes either way.
func (o *Observable[T]) SetUnavailable() {
	o.mu.Lock()
	o.err = ErrVariableUnavailable
	watchers := make([]func(), 0, len(o.watchers))
	for _, fn := range o.watchers {
		watchers = append(watchers, fn)
	}
	o.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
}

func (o *Observable[T]) Watch(fn func()) (stop func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.watchers[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.watchers, id)
		o.mu.Unlock()
	}
}

// FuncVariable adapts a read function into a polled-only Variable. Change
// notification is not supported; deferred decisions reading one must also
// register a deadline.
type FuncVariable[T any] struct {
	name string
	ttl  time.Duration
	fn   func() (T, error)
}

func NewFuncVariable[T any](name string, fn func() (T, error)) *FuncVariable[T] {
	return &FuncVariable[T]{name: name, fn: fn}
}

func (v *FuncVariable[T]) WithSnapshotTTL(ttl time.Duration) *FuncVariable[T] {
	v.ttl = ttl
	return v
}

func (v *FuncVariable[T]) Name() string {
	return v.name
}

func (v *FuncVariable[T]) SnapshotTTL() time.Duration {
	return v.ttl
}

func (v *FuncVariable[T]) Value() (any, error) {
	value, err := v.fn()
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (v *FuncVariable[T]) Watch(func()) (stop func()) {
	return func() {}
}

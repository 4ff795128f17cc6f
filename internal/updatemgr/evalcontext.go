package updatemgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// EvaluationContext serves a single decision call. It snapshots every
// variable the decision reads, so repeated reads within one call observe one
// consistent value, and it collects the wake conditions of a deferred
// decision: the set of monitored variables plus an optional deadline.
//
// A context is good for one evaluation. After a deferral the caller waits on
// it, then discards it and builds a fresh one for the re-evaluation.
type EvaluationContext struct {
	nowFn func() time.Time
	cache *ttlcache.Cache[string, any]

	mu        sync.Mutex
	monitored map[string]func()
	deadline  time.Time
	closed    bool

	wake chan struct{}
}

func NewEvaluationContext(nowFn func() time.Time) *EvaluationContext {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &EvaluationContext{
		nowFn: nowFn,
		cache: ttlcache.New[string, any](
			ttlcache.WithDisableTouchOnHit[string, any](),
		),
		monitored: make(map[string]func()),
		wake:      make(chan struct{}, 1),
	}
}

// GetValue reads a variable through the context's snapshot cache. The first
// read polls the variable; later reads within the evaluation return the
// snapshot until the variable's SnapshotTTL elapses.
func GetValue[T any](ec *EvaluationContext, v Variable) (T, error) {
	var zero T
	raw, err := ec.snapshot(v)
	if err != nil {
		return zero, err
	}
	value, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q holds %T", ErrVariableType, v.Name(), raw)
	}
	return value, nil
}

// GetAndMonitor reads a variable like GetValue and additionally registers it
// as a wake condition: if the decision defers, a change to the variable
// resumes the caller waiting on this context.
func GetAndMonitor[T any](ec *EvaluationContext, v Variable) (T, error) {
	ec.monitor(v)
	return GetValue[T](ec, v)
}

func (ec *EvaluationContext) snapshot(v Variable) (any, error) {
	if item := ec.cache.Get(v.Name()); item != nil {
		return item.Value(), nil
	}

	raw, err := v.Value()
	if err != nil {
		return nil, fmt.Errorf("reading variable %q: %w", v.Name(), err)
	}

	ttl := v.SnapshotTTL()
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	ec.cache.Set(v.Name(), raw, ttl)
	return raw, nil
}

func (ec *EvaluationContext) monitor(v Variable) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.closed {
		return
	}
	if _, ok := ec.monitored[v.Name()]; ok {
		return
	}
	ec.monitored[v.Name()] = v.Watch(ec.signal)
}

func (ec *EvaluationContext) signal() {
	select {
	case ec.wake <- struct{}{}:
	default:
	}
}

// SetDeadline registers a wake deadline; the earliest registered deadline
// wins.
func (ec *EvaluationContext) SetDeadline(t time.Time) {
	if t.IsZero() {
		return
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.deadline.IsZero() || t.Before(ec.deadline) {
		ec.deadline = t
	}
}

// Deadline returns the registered wake deadline, zero if none.
func (ec *EvaluationContext) Deadline() time.Time {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.deadline
}

// Monitoring reports whether the named variable is registered as a wake
// condition.
func (ec *EvaluationContext) Monitoring(name string) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	_, ok := ec.monitored[name]
	return ok
}

// Wait blocks until a monitored variable changes, the registered deadline
// elapses, or ctx is canceled. A deferred decision that registered neither a
// monitored variable nor a deadline would wait forever, so Wait refuses it
// with ErrNoWakeCondition rather than busy-loop or hang.
func (ec *EvaluationContext) Wait(ctx context.Context) error {
	ec.mu.Lock()
	if ec.closed {
		ec.mu.Unlock()
		return ErrContextClosed
	}
	deadline := ec.deadline
	monitoring := len(ec.monitored) > 0
	ec.mu.Unlock()

	var timerC <-chan time.Time
	if !deadline.IsZero() {
		wait := deadline.Sub(ec.nowFn())
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timerC = timer.C
	} else if !monitoring {
		return ErrNoWakeCondition
	}

	select {
	case <-ec.wake:
		return nil
	case <-timerC:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close removes all watcher registrations. The context must not be used
// afterwards.
func (ec *EvaluationContext) Close() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.closed {
		return
	}
	ec.closed = true
	for name, stop := range ec.monitored {
		stop()
		delete(ec.monitored, name)
	}
	ec.cache.DeleteAll()
}

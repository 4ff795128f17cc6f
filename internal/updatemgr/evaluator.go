package updatemgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/updatectl/updatectl/pkg/log"
)

// UpdateStateStore is the persistence the driver owns. Load supplies the
// UpdateState snapshot for a decision; ApplyDownloadParams persists every
// feedback field of a terminal UpdateCanStart result before the next
// decision. Skipping any feedback field breaks the decision invariants and
// can cause oscillation, e.g. re-rolling scattering on every call.
type UpdateStateStore interface {
	Load() (UpdateState, error)
	ApplyDownloadParams(now time.Time, params *UpdateDownloadParams) error
}

// MemoryUpdateStateStore is an in-memory UpdateStateStore.
type MemoryUpdateStateStore struct {
	mu    sync.Mutex
	state UpdateState
}

func NewMemoryUpdateStateStore(initial UpdateState) *MemoryUpdateStateStore {
	return &MemoryUpdateStateStore{state: initial}
}

func (s *MemoryUpdateStateStore) Load() (UpdateState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *MemoryUpdateStateStore) ApplyDownloadParams(now time.Time, params *UpdateDownloadParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.LastDownloadURLIdx = params.DownloadURLIdx
	s.state.LastDownloadURLNumErrors = params.DownloadURLNumErrors
	s.state.BackoffExpiry = params.BackoffExpiry
	s.state.ScatterWaitPeriod = params.ScatterWaitPeriod
	s.state.ScatterCheckThreshold = params.ScatterCheckThreshold
	if params.DoIncrementFailures {
		s.state.NumFailures++
		s.state.FailuresLastUpdated = now
	}
	return nil
}

// Evaluator drives policy decisions to a terminal result. It owns the
// re-invocation loop the deferral protocol requires: on AskMeAgainLater it
// waits on the evaluation context until a monitored variable changes or the
// registered deadline elapses, then re-runs the decision against a fresh
// context. Decisions against the same state must not run concurrently; the
// Evaluator is meant to be driven from a single goroutine.
type Evaluator struct {
	policy Policy
	state  *State
	nowFn  func() time.Time
	log    *log.PrefixLogger
}

func NewEvaluator(policy Policy, state *State, nowFn func() time.Time, logger *log.PrefixLogger) *Evaluator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Evaluator{
		policy: policy,
		state:  state,
		nowFn:  nowFn,
		log:    logger,
	}
}

// EvaluateCheckAllowed runs UpdateCheckAllowed to a terminal result.
func (e *Evaluator) EvaluateCheckAllowed(ctx context.Context) (*UpdateCheckParams, error) {
	return evaluate(ctx, e, OpUpdateCheckAllowed,
		func(ec *EvaluationContext) (EvalStatus, *UpdateCheckParams, error) {
			return e.policy.UpdateCheckAllowed(ec, e.state)
		})
}

// EvaluateCanStart runs UpdateCanStart to a terminal result and persists its
// feedback fields into the store. The UpdateState snapshot is loaded once
// and reused across deferrals, per the re-invocation contract.
func (e *Evaluator) EvaluateCanStart(ctx context.Context, store UpdateStateStore) (*UpdateDownloadParams, error) {
	updateState, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading update state: %w", err)
	}

	params, err := evaluate(ctx, e, OpUpdateCanStart,
		func(ec *EvaluationContext) (EvalStatus, *UpdateDownloadParams, error) {
			return e.policy.UpdateCanStart(ec, e.state, updateState)
		})
	if err != nil {
		return nil, err
	}

	if err := store.ApplyDownloadParams(e.nowFn(), params); err != nil {
		return nil, fmt.Errorf("persisting download params: %w", err)
	}
	return params, nil
}

// EvaluateDownloadAllowed runs UpdateDownloadAllowed to a terminal result.
func (e *Evaluator) EvaluateDownloadAllowed(ctx context.Context) (bool, error) {
	return evaluate(ctx, e, OpUpdateDownloadAllowed,
		func(ec *EvaluationContext) (EvalStatus, bool, error) {
			return e.policy.UpdateDownloadAllowed(ec, e.state)
		})
}

func evaluate[T any](ctx context.Context, e *Evaluator, op Operation, fn func(*EvaluationContext) (EvalStatus, T, error)) (T, error) {
	var zero T
	evalID := uuid.New().String()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		ec := NewEvaluationContext(e.nowFn)
		status, result, err := fn(ec)
		switch status {
		case EvalFailed:
			ec.Close()
			return zero, fmt.Errorf("%s::%s evaluation %s: %w", e.policy.Name(), op, evalID, err)
		case EvalSucceeded:
			ec.Close()
			e.log.Debugf("%s::%s evaluation %s succeeded after %d attempt(s)",
				e.policy.Name(), op, evalID, attempt)
			return result, nil
		case EvalAskMeAgainLater:
			e.log.Debugf("%s::%s evaluation %s deferred (deadline %s)",
				e.policy.Name(), op, evalID, ec.Deadline())
			waitErr := ec.Wait(ctx)
			ec.Close()
			if waitErr != nil {
				return zero, fmt.Errorf("%s::%s evaluation %s: %w", e.policy.Name(), op, evalID, waitErr)
			}
		default:
			ec.Close()
			return zero, fmt.Errorf("%s::%s evaluation %s: unexpected status %s",
				e.policy.Name(), op, evalID, status)
		}
	}
}

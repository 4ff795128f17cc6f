package updatemgr

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/samber/lo"

	"github.com/updatectl/updatectl/pkg/log"
	"github.com/updatectl/updatectl/pkg/poll"
)

const (
	defaultCheckInterval = 45 * time.Minute
	checkIntervalFuzz    = 10 * time.Minute

	backoffBaseDelay = 24 * time.Hour
	backoffFactor    = 2.0
	backoffMaxDelay  = 16 * 24 * time.Hour
	backoffFuzz      = 6 * time.Hour
)

var _ Policy = (*defaultPolicy)(nil)

type defaultPolicy struct {
	log *log.PrefixLogger
}

// NewDefaultPolicy returns the stock rule set: periodic checks on a fuzzed
// cadence, device-policy overrides when a policy is loaded, exponential
// backoff after repeated failures, and fleet-wide scattering of periodic
// update starts.
func NewDefaultPolicy(logger *log.PrefixLogger) Policy {
	return &defaultPolicy{log: logger}
}

func (p *defaultPolicy) Name() string {
	return "default"
}

func (p *defaultPolicy) UpdateCheckAllowed(ec *EvaluationContext, st *State) (EvalStatus, *UpdateCheckParams, error) {
	now, err := GetValue[time.Time](ec, st.Time.Wallclock())
	if err != nil {
		return EvalFailed, nil, err
	}

	result := &UpdateCheckParams{UpdatesEnabled: true}

	policyLoaded, err := GetAndMonitor[bool](ec, st.DevicePolicy.IsLoaded())
	if err != nil {
		return EvalFailed, nil, err
	}
	if policyLoaded {
		disabled, err := GetAndMonitor[bool](ec, st.DevicePolicy.UpdatesDisabled())
		if err != nil {
			return EvalFailed, nil, err
		}
		if disabled {
			p.log.Debugf("%s: automatic updates disabled by device policy", OpUpdateCheckAllowed)
			result.UpdatesEnabled = false
			return EvalSucceeded, result, nil
		}
		if result.TargetVersionPrefix, err = GetAndMonitor[string](ec, st.DevicePolicy.TargetVersionPrefix()); err != nil {
			return EvalFailed, nil, err
		}
		if result.TargetChannel, err = GetAndMonitor[string](ec, st.DevicePolicy.TargetChannel()); err != nil {
			return EvalFailed, nil, err
		}
	}

	// a pending user request short-circuits the periodic cadence and any
	// check window
	interactive, err := GetAndMonitor[bool](ec, st.Updater.InteractiveCheckRequested())
	if err != nil {
		return EvalFailed, nil, err
	}
	if interactive {
		result.IsInteractive = true
		return EvalSucceeded, result, nil
	}

	if policyLoaded {
		window, err := GetAndMonitor[*CheckWindow](ec, st.DevicePolicy.CheckWindow())
		if err != nil {
			return EvalFailed, nil, err
		}
		if window != nil {
			schedule, err := parseCheckSchedule(window)
			if err != nil {
				return EvalFailed, nil, fmt.Errorf("parsing check window: %w", err)
			}
			if !schedule.isOpen(now) {
				nextOpen := schedule.nextOpen(now)
				p.log.Debugf("%s: outside check window, next opens %s", OpUpdateCheckAllowed, nextOpen)
				ec.SetDeadline(nextOpen)
				return EvalAskMeAgainLater, nil, nil
			}
		}
	}

	lastChecked, err := GetAndMonitor[time.Time](ec, st.Updater.LastCheckedTime())
	if err != nil {
		return EvalFailed, nil, err
	}
	if lastChecked.IsZero() {
		return EvalSucceeded, result, nil
	}

	interval, err := GetAndMonitor[time.Duration](ec, st.Updater.CheckInterval())
	if err != nil {
		return EvalFailed, nil, err
	}
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	rng, err := p.rng(ec, st)
	if err != nil {
		return EvalFailed, nil, err
	}
	nextCheck := lastChecked.Add(interval + time.Duration(rng.Int63n(int64(checkIntervalFuzz))))
	if now.Before(nextCheck) {
		ec.SetDeadline(nextCheck)
		return EvalAskMeAgainLater, nil, nil
	}

	return EvalSucceeded, result, nil
}

func (p *defaultPolicy) UpdateCanStart(ec *EvaluationContext, st *State, us UpdateState) (EvalStatus, *UpdateDownloadParams, error) {
	if err := validateUpdateState(us); err != nil {
		return EvalFailed, nil, err
	}

	now, err := GetValue[time.Time](ec, st.Time.Wallclock())
	if err != nil {
		return EvalFailed, nil, err
	}

	// every branch returns a fully populated result; fields irrelevant to
	// the taken branch carry the unchanged input values so the caller's
	// persistence step is branch-independent
	result := &UpdateDownloadParams{
		DownloadURLIdx:        -1,
		BackoffExpiry:         us.BackoffExpiry,
		ScatterWaitPeriod:     us.ScatterWaitPeriod,
		ScatterCheckThreshold: us.ScatterCheckThreshold,
	}

	// nothing on offer: a completed check has to produce a payload before
	// any download decision is meaningful
	if len(us.DownloadURLs) == 0 {
		result.CannotStartReason = ReasonCheckDue
		return EvalSucceeded, result, nil
	}

	// backoff, bypassed for interactive requests
	if !us.IsInteractive && !us.IsBackoffDisabled &&
		!us.BackoffExpiry.IsZero() && now.Before(us.BackoffExpiry) {
		p.log.Debugf("%s: backed off until %s", OpUpdateCanStart, us.BackoffExpiry)
		result.CannotStartReason = ReasonBackoff
		return EvalSucceeded, result, nil
	}

	// scattering, bypassed for interactive requests
	if !us.IsInteractive && (us.ScatterWaitPeriodMax > 0 || us.ScatterCheckThresholdMax > 0) {
		waitPeriod := us.ScatterWaitPeriod
		checkThreshold := us.ScatterCheckThreshold
		if waitPeriod == 0 && checkThreshold == 0 {
			rng, err := p.rng(ec, st)
			if err != nil {
				return EvalFailed, nil, err
			}
			waitPeriod, checkThreshold, err = drawScatterParams(rng, us)
			if err != nil {
				return EvalFailed, nil, err
			}
			p.log.Debugf("%s: assigned scatter wait period %s, check threshold %d",
				OpUpdateCanStart, waitPeriod, checkThreshold)
		}
		if waitPeriod > us.ScatterWaitPeriodMax {
			waitPeriod = us.ScatterWaitPeriodMax
		}
		checkThreshold = max(checkThreshold, us.ScatterCheckThresholdMin)
		checkThreshold = min(checkThreshold, us.ScatterCheckThresholdMax)
		result.ScatterWaitPeriod = waitPeriod
		result.ScatterCheckThreshold = checkThreshold

		if now.Before(us.FirstSeen.Add(waitPeriod)) || us.NumChecks < checkThreshold {
			result.CannotStartReason = ReasonScattering
			return EvalSucceeded, result, nil
		}
	}

	urlIdx, urlNumErrors := selectDownloadURL(us)
	if urlIdx < 0 {
		p2pAllowed, err := p.p2pAllowed(ec, st)
		if err != nil {
			return EvalFailed, nil, err
		}
		if !p2pAllowed {
			// every direct source is exhausted and P2P cannot step in:
			// count a failure and back off before the next attempt
			result.CannotStartReason = ReasonCannotDownload
			result.DoIncrementFailures = true
			if !us.IsBackoffDisabled {
				expiry, err := p.backoffExpiry(ec, st, now, us.NumFailures+1)
				if err != nil {
					return EvalFailed, nil, err
				}
				result.BackoffExpiry = expiry
			}
			return EvalSucceeded, result, nil
		}
		result.UpdateCanStart = true
		result.P2PAllowed = true
		return EvalSucceeded, result, nil
	}

	result.UpdateCanStart = true
	result.DownloadURLIdx = urlIdx
	result.DownloadURLNumErrors = urlNumErrors
	return EvalSucceeded, result, nil
}

func (p *defaultPolicy) UpdateDownloadAllowed(ec *EvaluationContext, st *State) (EvalStatus, bool, error) {
	connType, err := GetAndMonitor[ConnectionType](ec, st.Connection.ConnectionType())
	if err != nil {
		return EvalFailed, false, err
	}
	tethering, err := GetAndMonitor[bool](ec, st.Connection.IsTethering())
	if err != nil {
		return EvalFailed, false, err
	}

	// a tethered link is billed like the phone behind it
	if tethering && (connType == ConnectionEthernet || connType == ConnectionWifi) {
		connType = ConnectionCellular
	}

	switch connType {
	case ConnectionEthernet, ConnectionWifi:
		return EvalSucceeded, true, nil
	case ConnectionBluetooth:
		return EvalSucceeded, false, nil
	case ConnectionCellular:
		allowed, err := p.cellularAllowed(ec, st)
		if err != nil {
			return EvalFailed, false, err
		}
		return EvalSucceeded, allowed, nil
	default:
		return EvalFailed, false, fmt.Errorf("unrecognized connection type %q", connType)
	}
}

func (p *defaultPolicy) cellularAllowed(ec *EvaluationContext, st *State) (bool, error) {
	policyLoaded, err := GetAndMonitor[bool](ec, st.DevicePolicy.IsLoaded())
	if err != nil {
		return false, err
	}
	if policyLoaded {
		allowedTypes, err := GetAndMonitor[[]ConnectionType](ec, st.DevicePolicy.AllowedConnectionTypes())
		if err != nil {
			return false, err
		}
		if allowedTypes != nil {
			return lo.Contains(allowedTypes, ConnectionCellular), nil
		}
	}
	// no policy verdict: fall back to the user's consent
	return GetAndMonitor[bool](ec, st.Updater.CellularDownloadsAllowed())
}

func (p *defaultPolicy) p2pAllowed(ec *EvaluationContext, st *State) (bool, error) {
	policyLoaded, err := GetAndMonitor[bool](ec, st.DevicePolicy.IsLoaded())
	if err != nil {
		return false, err
	}
	if !policyLoaded {
		return false, nil
	}
	return GetAndMonitor[bool](ec, st.DevicePolicy.P2PEnabled())
}

// rng derives the evaluation's random stream from the snapshotted seed, so
// re-reading it within one evaluation stays deterministic.
func (p *defaultPolicy) rng(ec *EvaluationContext, st *State) (*rand.Rand, error) {
	seed, err := GetValue[int64](ec, st.Random.Seed())
	if err != nil {
		return nil, err
	}
	return rand.New(rand.NewSource(seed)), nil
}

func (p *defaultPolicy) backoffExpiry(ec *EvaluationContext, st *State, now time.Time, numFailures int) (time.Time, error) {
	delay := poll.CalculateBackoffDelay(&poll.Config{
		BaseDelay: backoffBaseDelay,
		Factor:    backoffFactor,
		MaxDelay:  backoffMaxDelay,
	}, numFailures)

	rng, err := p.rng(ec, st)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(poll.Jitter(delay, backoffFuzz, rng)), nil
}

// drawScatterParams assigns the one-time scattering parameters for a payload
// from the service-supplied bounds: a wait period in [1, max] when a wait
// bound is set, and a check threshold in [max(min, 1), max] when a threshold
// bound is set. A dimension whose bound is zero stays zero, so the service
// only ever gets the gates it asked for; each requested draw is non-zero so
// an assigned pair is distinguishable from the unassigned zero state.
func drawScatterParams(rng *rand.Rand, us UpdateState) (time.Duration, int, error) {
	var waitPeriod time.Duration
	if us.ScatterWaitPeriodMax > 0 {
		waitPeriod = time.Duration(rng.Int63n(int64(us.ScatterWaitPeriodMax))) + 1
	}

	var checkThreshold int
	if us.ScatterCheckThresholdMax > 0 {
		checkThreshold = max(us.ScatterCheckThresholdMin, 1)
		if span := us.ScatterCheckThresholdMax - checkThreshold; span > 0 {
			span64, err := safecast.ToInt64(span + 1)
			if err != nil {
				return 0, 0, fmt.Errorf("scatter threshold span: %w", err)
			}
			draw, err := safecast.ToInt(rng.Int63n(span64))
			if err != nil {
				return 0, 0, fmt.Errorf("scatter threshold draw: %w", err)
			}
			checkThreshold += draw
		}
		checkThreshold = min(checkThreshold, us.ScatterCheckThresholdMax)
	}

	return waitPeriod, checkThreshold, nil
}

// selectDownloadURL walks the candidate URLs starting just after the
// previously used index, wrapping, and returns the first URL whose error
// count since FirstSeen is still under the per-URL budget, along with its
// running error count. Returns -1 when every candidate is at the budget.
func selectDownloadURL(us UpdateState) (int, int) {
	n := len(us.DownloadURLs)
	errorCounts := make([]int, n)
	for _, de := range us.DownloadErrors {
		if de.URLIndex >= 0 && de.URLIndex < n && !de.OccurredAt.Before(us.FirstSeen) {
			errorCounts[de.URLIndex]++
		}
	}

	for i := 1; i <= n; i++ {
		idx := (us.LastDownloadURLIdx + i + n) % n
		if errorCounts[idx] >= us.DownloadErrorsMax {
			continue
		}
		numErrors := 0
		if idx == us.LastDownloadURLIdx {
			numErrors = us.LastDownloadURLNumErrors
		}
		return idx, numErrors
	}
	return -1, 0
}

func validateUpdateState(us UpdateState) error {
	if us.LastDownloadURLIdx != -1 &&
		(us.LastDownloadURLIdx < 0 || us.LastDownloadURLIdx >= len(us.DownloadURLs)) {
		return fmt.Errorf("%w: index %d with %d URLs",
			ErrURLIndexOutOfRange, us.LastDownloadURLIdx, len(us.DownloadURLs))
	}
	if us.DownloadErrorsMax < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeErrorBudget, us.DownloadErrorsMax)
	}
	if us.NumChecks < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeNumChecks, us.NumChecks)
	}
	return nil
}

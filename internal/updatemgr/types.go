package updatemgr

import (
	"time"
)

// EvalStatus is the tri-state outcome of a policy decision. A decision either
// fails with an error, succeeds with a result, or asks to be re-evaluated
// once a monitored condition changes. It never carries both an error and a
// deferral.
type EvalStatus int

const (
	EvalFailed EvalStatus = iota
	EvalSucceeded
	EvalAskMeAgainLater
)

func (s EvalStatus) String() string {
	switch s {
	case EvalFailed:
		return "failed"
	case EvalSucceeded:
		return "succeeded"
	case EvalAskMeAgainLater:
		return "ask-me-again-later"
	default:
		return "unknown"
	}
}

// UpdateCheckParams are the parameters of an update check, as determined by
// the UpdateCheckAllowed decision.
type UpdateCheckParams struct {
	// Whether periodic update checks are enabled at all. False is a valid,
	// final decision, not an error.
	UpdatesEnabled bool

	// A target version prefix, if imposed by device policy; otherwise empty.
	TargetVersionPrefix string
	// A target channel, if imposed by device policy; otherwise empty.
	TargetChannel string

	// Whether the allowed check is user-initiated rather than periodic.
	IsInteractive bool
}

// DownloadErrorKind classifies a single failed download attempt.
type DownloadErrorKind string

const (
	DownloadErrorTransfer DownloadErrorKind = "transfer"
	DownloadErrorTimeout  DownloadErrorKind = "timeout"
	DownloadErrorPayload  DownloadErrorKind = "payload"
)

// DownloadError records one failed download attempt against a candidate URL.
type DownloadError struct {
	// Index into UpdateState.DownloadURLs of the URL that failed.
	URLIndex int
	Kind     DownloadErrorKind
	// Wallclock time the error occurred.
	OccurredAt time.Time
}

// UpdateState is a read-only snapshot of the history of the current update
// attempt, supplied fresh by the caller on every UpdateCanStart decision. It
// covers everything since the current payload was first consecutively
// offered by the update service.
type UpdateState struct {
	// Whether the current update check was user-initiated. Callers should
	// feed back the value returned by the preceding UpdateCheckAllowed.
	IsInteractive bool
	// Whether the payload is a delta payload.
	IsDeltaPayload bool
	// Wallclock time the current payload was first consecutively offered.
	FirstSeen time.Time
	// Number of consecutive checks that returned the current payload.
	NumChecks int

	// Cumulative download/apply failures for this payload and the wallclock
	// time the count was last bumped. Both are reset by the caller whenever a
	// different payload is seen, and bumped only when a decision returns
	// DoIncrementFailures.
	NumFailures         int
	FailuresLastUpdated time.Time

	// Ordered candidate download URLs supplied by the update service.
	DownloadURLs []string
	// Max number of errors allowed per download URL.
	DownloadErrorsMax int
	// Index of the URL chosen by the previous decision, -1 if none yet.
	LastDownloadURLIdx int
	// Consecutive errors on that URL, as returned by the previous decision.
	LastDownloadURLNumErrors int
	// Download errors recorded since the payload was first seen, ordered by
	// time ascending.
	DownloadErrors []DownloadError

	// Persisted backoff expiry; zero means no backoff is in effect.
	BackoffExpiry time.Time
	// Whether the update service disabled backoff for this payload.
	IsBackoffDisabled bool

	// Persisted scattering state; zero until assigned by a decision.
	ScatterWaitPeriod     time.Duration
	ScatterCheckThreshold int
	// Scattering bounds supplied by the update service for this payload.
	ScatterWaitPeriodMax     time.Duration
	ScatterCheckThresholdMin int
	ScatterCheckThresholdMax int
}

// UpdateCannotStartReason explains a negative UpdateCanStart decision.
type UpdateCannotStartReason int

const (
	ReasonUndefined UpdateCannotStartReason = iota
	ReasonCheckDue
	ReasonScattering
	ReasonBackoff
	ReasonCannotDownload
)

func (r UpdateCannotStartReason) String() string {
	switch r {
	case ReasonUndefined:
		return "undefined"
	case ReasonCheckDue:
		return "check-due"
	case ReasonScattering:
		return "scattering"
	case ReasonBackoff:
		return "backoff"
	case ReasonCannotDownload:
		return "cannot-download"
	default:
		return "unknown"
	}
}

// UpdateDownloadParams is the result of the UpdateCanStart decision. Every
// branch populates all fields: fields irrelevant to the taken branch carry
// the unchanged pass-through values from the input UpdateState, so the
// caller's persistence step is branch-independent.
type UpdateDownloadParams struct {
	// Whether the update attempt is allowed to proceed.
	UpdateCanStart bool
	// Populated only when UpdateCanStart is false.
	CannotStartReason UpdateCannotStartReason

	// Index of the download URL to use, or -1 if no suitable URL was found;
	// in the latter case P2P may still be available. Must be persisted and
	// handed back on the next decision.
	DownloadURLIdx int
	// Consecutive errors on the chosen URL. Must be persisted and handed
	// back on the next decision.
	DownloadURLNumErrors int
	// Whether P2P downloads are allowed.
	P2PAllowed bool

	// Whether the caller must bump NumFailures, stamp FailuresLastUpdated
	// with the current time, and persist both.
	DoIncrementFailures bool
	// New persisted backoff and scattering state, handed back as the
	// corresponding UpdateState fields on the next decision.
	BackoffExpiry         time.Time
	ScatterWaitPeriod     time.Duration
	ScatterCheckThreshold int
}

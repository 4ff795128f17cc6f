package updatemgr

// Operation tags the public policy decisions. Tags are attached at the call
// site for logging and tracing; decisions are never identified by comparing
// function values.
type Operation int

const (
	OpUpdateCheckAllowed Operation = iota
	OpUpdateCanStart
	OpUpdateDownloadAllowed
)

func (o Operation) String() string {
	switch o {
	case OpUpdateCheckAllowed:
		return "UpdateCheckAllowed"
	case OpUpdateCanStart:
		return "UpdateCanStart"
	case OpUpdateDownloadAllowed:
		return "UpdateDownloadAllowed"
	default:
		return "unknown"
	}
}

// Policy is the ensemble of decisions an update client can request. A
// concrete rule set (default, enterprise-managed, ...) is selected when the
// Policy is constructed; the constructed instance is owned exclusively by
// the driver that runs it and must not be copied.
//
// Every decision reads its inputs through the EvaluationContext, computes
// without blocking, and returns:
//
//   - EvalSucceeded and a populated result;
//   - EvalFailed and a non-nil error naming the offending variable or
//     precondition;
//   - EvalAskMeAgainLater with neither, after registering at least one wake
//     condition (monitored variable or deadline) on the context.
type Policy interface {
	// Name identifies the rule set in logs.
	Name() string

	// UpdateCheckAllowed decides whether the client may query the update
	// service for a new update now. UpdatesEnabled=false in the result is a
	// final successful decision, not a failure.
	UpdateCheckAllowed(ec *EvaluationContext, st *State) (EvalStatus, *UpdateCheckParams, error)

	// UpdateCanStart decides whether downloading/applying the payload
	// described by updateState may begin now, and from which source. A
	// negative decision is a successful result carrying a
	// CannotStartReason.
	UpdateCanStart(ec *EvaluationContext, st *State, updateState UpdateState) (EvalStatus, *UpdateDownloadParams, error)

	// UpdateDownloadAllowed decides whether the currently observed network
	// connection is suitable for downloading. A false result is a
	// successful decision; EvalFailed is reserved for being unable to read
	// the connection state.
	UpdateDownloadAllowed(ec *EvaluationContext, st *State) (EvalStatus, bool, error)
}

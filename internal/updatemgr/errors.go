package updatemgr

import (
	"errors"
)

var (
	// variables
	ErrVariableUnavailable = errors.New("variable value unavailable")
	ErrVariableType        = errors.New("variable value has unexpected type")

	// evaluation context
	ErrNoWakeCondition = errors.New("deferred evaluation registered no wake condition")
	ErrContextClosed   = errors.New("evaluation context is closed")

	// update state preconditions
	ErrURLIndexOutOfRange  = errors.New("last download URL index out of range")
	ErrNegativeErrorBudget = errors.New("download errors max is negative")
	ErrNegativeNumChecks   = errors.New("number of checks is negative")

	// check window
	ErrInvalidCheckWindow = errors.New("invalid check window")
)

package kernel

import "errors"

// Sentinel errors for kernel operations.
var (
	ErrProcessNotFound  = errors.New("process not found")
	ErrUnknownType      = errors.New("unknown process type")
	ErrAlreadySuspended = errors.New("process already suspended")
	ErrNotSuspended     = errors.New("process not suspended")
	ErrNoMessageHandler = errors.New("process does not accept messages")
)

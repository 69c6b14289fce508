// Package errs defines the Orchestration Core's error kinds (§7). These are
// sentinel values, not types: callers wrap them with context via
// fmt.Errorf("...: %w", errs.ErrIllegalTransition) and test with errors.Is,
// matching the teacher's session/errors.go convention of small sentinel
// vars rather than a custom error-type hierarchy.
package errs

import "errors"

var (
	ErrIllegalTransition  = errors.New("illegal state transition")
	ErrAlreadyHeld        = errors.New("lock already held by a live process")
	ErrNotFound           = errors.New("not found")
	ErrDependencyCycle    = errors.New("dependency cycle detected")
	ErrBudgetExceeded     = errors.New("rate limit budget exceeded")
	ErrTimeout            = errors.New("operation timed out")
	ErrZombie             = errors.New("process is a zombie")
	ErrStoreError         = errors.New("store error")
	ErrExternalAdapter    = errors.New("external adapter error")
	ErrAgentUnknown       = errors.New("agent unknown")
)

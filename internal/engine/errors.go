package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrDirectoryNotEmpty means the setup target exists and holds files that
	// are not part of a deployment. Provisioning refuses to touch it.
	ErrDirectoryNotEmpty = errors.New("target directory is not empty")

	// ErrSetupIncomplete means the deployment directory is missing required
	// artifacts after provisioning.
	ErrSetupIncomplete = errors.New("setup incomplete")

	// ErrSetupLocked means another provisioning run holds the directory lock.
	ErrSetupLocked = errors.New("setup already in progress")

	// ErrInvalidConfig means the user-supplied deployment configuration is
	// rejected before any phase runs.
	ErrInvalidConfig = errors.New("invalid deployment configuration")
)

// PhaseError wraps a failure with the provisioning phase it occurred in.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a failure to read or write the persisted setup
// state. It is advisory: provisioning logs it and continues.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist state %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

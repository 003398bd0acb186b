package domain

import "errors"

var (
	// ErrNoActiveIntervention is returned by intervention callbacks when nothing is presented.
	ErrNoActiveIntervention = errors.New("no active intervention")

	// ErrDismissNotAllowed is returned when a password-protected intervention is dismissed.
	ErrDismissNotAllowed = errors.New("intervention requires the password")

	// ErrNotPasswordProtected is returned when a password is submitted for a plain intervention.
	ErrNotPasswordProtected = errors.New("intervention is not password protected")

	// ErrPolicyNotFound is returned when no policy exists for a package.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrEngineNotRunning is returned by engine controls that need a running loop.
	ErrEngineNotRunning = errors.New("engine not running")

	// ErrEngineRunning is returned when the engine is started twice.
	ErrEngineRunning = errors.New("engine already running")
)

package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrNotFound - instance, template, or file not found (fatal to the operation)
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput - invalid input (fatal to the operation)
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict - conflict, resource already exists
	ErrConflict = errors.New("conflict")

	// ErrTransient - transient error (network, timeout, sandbox runtime hiccup)
	ErrTransient = errors.New("transient error")

	// ErrProtectedFile - write rejected because the path is template-protected
	ErrProtectedFile = errors.New("file is forbidden to be modified")

	// ErrPortExhausted - no free port left in the configured scan range
	ErrPortExhausted = errors.New("port range exhausted")

	// ErrConfigMissing - durable deploy config not found; deploys never regenerate it
	ErrConfigMissing = errors.New("deployment config missing")

	// ErrBuildFailed - project build exited non-zero (fatal to deployment)
	ErrBuildFailed = errors.New("build failed")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)

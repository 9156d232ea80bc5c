package provision

import "errors"

// Sentinel errors for the fatal condition taxonomy.
// Use errors.Is() to check for these rather than string matching.
// Every one of them aborts the run; nothing is retried.
var (
	// ErrUsage indicates invalid flags or configuration
	ErrUsage = errors.New("invalid usage")

	// ErrPrivilege indicates the process lacks the privilege to mutate
	// system state
	ErrPrivilege = errors.New("insufficient privilege")

	// ErrConflict indicates existing state that cannot safely be changed:
	// the target is mounted from an unexpected device, the device carries a
	// foreign filesystem without --force, or the mount table is ambiguous
	ErrConflict = errors.New("conflicting state")

	// ErrResolution indicates the device or its identity could not be read
	ErrResolution = errors.New("resolution failed")

	// ErrMount indicates both mount attempts (by target, then by device)
	// failed
	ErrMount = errors.New("mount failed")
)

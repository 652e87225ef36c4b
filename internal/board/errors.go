package board

import "errors"

// Classified failures surfaced to callers. Anything not wrapping one of
// these sentinels is an internal/storage error: the transaction was aborted
// and the underlying cause is logged, not exposed.
var (
	// ErrNotFound means a referenced project, task, user or file does not
	// exist. Nothing was mutated.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a user-correctable conflict: a claim race lost, a
	// status change by a non-performer, or an invalid requested state.
	ErrConflict = errors.New("conflict")
)

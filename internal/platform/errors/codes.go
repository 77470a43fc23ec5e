// Package errors provides structured error handling with machine-readable codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeValidation marks a malformed event or command rejected before any
	// state change.
	CodeValidation Code = "VALIDATION"

	// CodeConflict marks a control-plane version mismatch under concurrent
	// updates. The caller should re-read and retry.
	CodeConflict Code = "CONFLICT"

	// CodeNotFound marks a missing entity.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInvalidState marks an operation against an entity whose lifecycle
	// stage disallows it.
	CodeInvalidState Code = "INVALID_STATE"

	// CodeRebuildInProgress marks maintenance contention. The caller must
	// wait and retry.
	CodeRebuildInProgress Code = "REBUILD_IN_PROGRESS"

	// CodeNoPriorVersion marks a control rollback with no earlier version.
	CodeNoPriorVersion Code = "NO_PRIOR_VERSION"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest

	case CodeNotFound:
		return http.StatusNotFound

	// Conflict - concurrent or lifecycle contention the caller can resolve
	case CodeConflict,
		CodeInvalidState,
		CodeNoPriorVersion:
		return http.StatusConflict

	case CodeRebuildInProgress:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// Package errors provides structured errors that carry a wire code.
package errors

// Code is a machine-readable error code sent to clients.
type Code string

const (
	// CodeUnknown represents an unclassified failure.
	CodeUnknown Code = "INTERNAL"

	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	CodeForbidden          Code = "FORBIDDEN"
)

// Retryable reports whether a client may retry the same request unchanged.
func (c Code) Retryable() bool {
	return c == CodeResourceExhausted
}

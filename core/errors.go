package core

import (
	"errors"
	"fmt"
)

// Code classifies a runtime failure. Codes drive two decisions: whether the
// loop can continue (recoverable failures become observations) and which
// terminal status a session receives when it cannot.
type Code string

const (
	// CodeEndpointUnavailable indicates a model endpoint that stayed
	// unreachable after bounded retries.
	CodeEndpointUnavailable Code = "ENDPOINT_UNAVAILABLE"
	// CodeMalformedModelOutput indicates output that could not be parsed
	// into a decision even after a corrective re-prompt.
	CodeMalformedModelOutput Code = "MALFORMED_MODEL_OUTPUT"
	// CodeInvalidAction indicates a proposed action that failed resolution
	// or argument validation. Always recoverable.
	CodeInvalidAction Code = "INVALID_ACTION"
	// CodeToolExecution indicates a resolved tool that ran and failed.
	// Always recoverable.
	CodeToolExecution Code = "TOOL_EXECUTION_ERROR"
	// CodeTurnBudgetExceeded indicates a session that consumed its maximum
	// number of loop iterations without completing.
	CodeTurnBudgetExceeded Code = "TURN_BUDGET_EXCEEDED"
	// CodeDepthBudgetExceeded indicates a delegation that would nest deeper
	// than the recursion budget allows.
	CodeDepthBudgetExceeded Code = "DEPTH_BUDGET_EXCEEDED"
	// CodeCancelled indicates work abandoned through cooperative
	// cancellation, either by the caller or by a failing sibling.
	CodeCancelled Code = "CANCELLED"
	// CodeInternal indicates a broken runtime invariant. Never recoverable
	// and never converted into an observation.
	CodeInternal Code = "INTERNAL_INVARIANT_VIOLATION"
)

// Error is a classified runtime failure. It wraps an optional cause so
// callers can use errors.Is/As across the classification boundary.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Err.Error())
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a classified error without a wrapped cause.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a classified error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error under the given code.
func WrapError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the classification from err. Unclassified errors map to
// CodeInternal so that an unexpected failure is never silently downgraded.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}

	return CodeInternal
}

// Recoverable reports whether err is action-scoped: the failure is recorded
// as an observation and the loop continues. Run-scoped failures terminate
// the session instead.
func Recoverable(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidAction, CodeToolExecution, CodeDepthBudgetExceeded:
		return true
	}

	return false
}

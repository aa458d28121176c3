package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Structural error codes, surfaced synchronously before or at execution
// start.
const (
	ErrCycleDetected     ErrorCode = "CYCLE_DETECTED"
	ErrDuplicateNode     ErrorCode = "DUPLICATE_NODE"
	ErrUnknownNode       ErrorCode = "UNKNOWN_NODE"
	ErrUnresolvedDep     ErrorCode = "UNRESOLVED_DEPENDENCY"
	ErrNodeReferenced    ErrorCode = "NODE_REFERENCED"
	ErrExecutionActive   ErrorCode = "EXECUTION_ACTIVE"
	ErrInvalidWorkflow   ErrorCode = "INVALID_WORKFLOW"
	ErrInvalidActionType ErrorCode = "INVALID_ACTION_TYPE"
)

// Tool error codes.
const (
	ErrToolNotFound   ErrorCode = "TOOL_NOT_FOUND"
	ErrToolDuplicate  ErrorCode = "TOOL_DUPLICATE"
	ErrToolRateLimit  ErrorCode = "TOOL_RATE_LIMITED"
	ErrToolValidation ErrorCode = "TOOL_VALIDATION"
)

// Runtime error codes.
const (
	ErrCanceled           ErrorCode = "CANCELED"
	ErrProviderNotSet     ErrorCode = "PROVIDER_NOT_SET"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrHumanInputRequired ErrorCode = "HUMAN_INPUT_REQUIRED"
)

// Error represents a structured error with a code and optional cause.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	NodeID  string    `json:"node_id,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.NodeID != "" && e.Cause != nil:
		return fmt.Sprintf("[%s] node %s: %s: %v", e.Code, e.NodeID, e.Message, e.Cause)
	case e.NodeID != "":
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithNode records the node the error originated from.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCanceled reports whether err stems from user-initiated cancellation.
// Cancellation is always fatal to the node, unlike ordinary tool failures.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if GetErrorCode(err) == ErrCanceled {
		return true
	}
	return errors.Is(err, context.Canceled)
}

package tools

import "strings"

// ErrorCode is a stable, machine-readable tool error code.
type ErrorCode string

const (
	ErrorCodeInvalidArgs ErrorCode = "INVALID_ARGS"
	ErrorCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrorCodeUnavailable ErrorCode = "UNAVAILABLE"
	ErrorCodeTimeout     ErrorCode = "TIMEOUT"
	ErrorCodeCanceled    ErrorCode = "CANCELED"
	ErrorCodeUnknown     ErrorCode = "UNKNOWN"
)

// ToolError carries structured tool failure metadata.
//
// Fatal errors abort the whole chat request; non-fatal errors are recorded in
// the trace so the model can adapt (re-query with different filters, explain
// the failure, and so on).
type ToolError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Fatal   bool      `json:"fatal,omitempty"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *ToolError) Normalize() {
	if e == nil {
		return
	}
	e.Message = strings.TrimSpace(e.Message)
	if e.Message == "" {
		e.Message = "Tool failed"
	}
	if e.Code == "" {
		e.Code = ErrorCodeUnknown
	}
}

// Recoverable creates a non-fatal tool error.
func Recoverable(code ErrorCode, message string) *ToolError {
	e := &ToolError{Code: code, Message: message}
	e.Normalize()
	return e
}

// Fatal creates a tool error that short-circuits the chat request.
func Fatal(code ErrorCode, message string) *ToolError {
	e := &ToolError{Code: code, Message: message, Fatal: true}
	e.Normalize()
	return e
}

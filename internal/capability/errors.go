// ABOUTME: Handler error taxonomy carried back to the gateway in invoke responses.
// ABOUTME: Categorized codes; handler failures are forwarded, never swallowed.

package capability

import (
	"errors"
	"fmt"
)

// Code categorizes a handler failure for the gateway.
type Code string

const (
	CodeUnknownCommand      Code = "UnknownCommand"
	CodeInvalidParams       Code = "InvalidParams"
	CodePermissionDenied    Code = "PermissionDenied"
	CodeHardwareUnavailable Code = "HardwareUnavailable"
	CodeInternal            Code = "Internal"
)

// HandlerError is a categorized capability failure. Handlers return these to
// control the error code sent to the gateway; any other error is reported as
// Internal.
type HandlerError struct {
	Code    Code
	Message string
}

func (e *HandlerError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a HandlerError with a formatted message.
func Errorf(code Code, format string, args ...any) *HandlerError {
	return &HandlerError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ResponseError renders an error into the invoke response error field.
// HandlerErrors keep their category verbatim; everything else is Internal.
func ResponseError(err error) string {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Error()
	}
	return (&HandlerError{Code: CodeInternal, Message: err.Error()}).Error()
}

package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// ErrorType categorizes script failures.
type ErrorType string

const (
	ErrorTypeSyntax   ErrorType = "syntax_error"
	ErrorTypeRuntime  ErrorType = "runtime_error"
	ErrorTypeTimeout  ErrorType = "timeout_error"
	ErrorTypeSecurity ErrorType = "security_error"
	ErrorTypeOutput   ErrorType = "output_error"
)

// Error is a structured script failure.
type Error struct {
	Type    ErrorType `json:"type"`
	Module  string    `json:"module"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] script %s: %s", e.Type, e.Module, e.Message)
}

// IsTimeout reports whether err is a script timeout.
func IsTimeout(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Type == ErrorTypeTimeout
}

func newError(typ ErrorType, module, format string, args ...any) *Error {
	return &Error{Type: typ, Module: module, Message: fmt.Sprintf(format, args...)}
}

// fromRuntime classifies an error returned by the runtime.
func fromRuntime(module string, err error) *Error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return newError(ErrorTypeTimeout, module, "%v", interrupted.Value())
	}

	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return newError(ErrorTypeSyntax, module, "%s", syntax.Error())
	}

	msg := err.Error()
	var exc *goja.Exception
	if errors.As(err, &exc) {
		msg = exc.Error()
	}

	typ := ErrorTypeRuntime
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "not allowed") {
		typ = ErrorTypeSecurity
	}
	return newError(typ, module, "%s", msg)
}

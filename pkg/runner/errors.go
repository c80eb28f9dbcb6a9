package runner

import (
	"errors"
	"fmt"
)

// ErrModuleFailed matches every *ExecutionError.
var ErrModuleFailed = errors.New("module execution failed")

// Pipeline phases reported by ExecutionError.
const (
	PhasePreprocess  = "preprocess"
	PhaseRun         = "run"
	PhasePostprocess = "postprocess"
)

// ExecutionError wraps a failure raised inside the pipeline with the phase it
// happened in.
type ExecutionError struct {
	Module      string
	ExecutionID string
	Phase       string
	// Step is the index of the failing processor; -1 for the module body.
	Step  int
	Cause error
}

func (e *ExecutionError) Error() string {
	if e.Step >= 0 {
		return fmt.Sprintf("module %q failed during %s step %d: %v", e.Module, e.Phase, e.Step, e.Cause)
	}
	return fmt.Sprintf("module %q failed during %s: %v", e.Module, e.Phase, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error { return e.Cause }

// Is lets errors.Is match ErrModuleFailed.
func (e *ExecutionError) Is(target error) bool { return target == ErrModuleFailed }

// PhaseOf returns the phase of the first ExecutionError in err's chain.
func PhaseOf(err error) (string, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Phase, true
	}
	return "", false
}

// safely runs fn and converts a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

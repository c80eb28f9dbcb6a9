// Package process defines the pre- and post-processing steps that surround a
// module body, together with a set of ready-made processors.
package process

import (
	"context"
	"errors"
	"fmt"

	"github.com/wehubfusion/Talos/pkg/module"
)

// ErrCanceled marks a run canceled by a preprocessor. It is a control signal,
// not a failure.
var ErrCanceled = errors.New("module execution canceled")

// CancelError carries the reason a preprocessor canceled a run.
type CancelError struct {
	Reason string
}

func (e *CancelError) Error() string {
	if e.Reason == "" {
		return ErrCanceled.Error()
	}
	return ErrCanceled.Error() + ": " + e.Reason
}

// Is lets errors.Is match ErrCanceled.
func (e *CancelError) Is(target error) bool { return target == ErrCanceled }

// Signal marks a cancellation as intentional so task substrates do not count
// it as a failure.
func (*CancelError) Signal() {}

// Cancel returns the error a preprocessor returns to stop the pipeline.
func Cancel(format string, args ...any) error {
	return &CancelError{Reason: fmt.Sprintf(format, args...)}
}

// IsCanceled reports whether err signals a preprocessor cancellation.
func IsCanceled(err error) bool { return errors.Is(err, ErrCanceled) }

// Preprocessor runs before the module body. Returning an error that matches
// ErrCanceled stops the pipeline quietly; any other error stops it as a failure.
type Preprocessor interface {
	Preprocess(ctx context.Context, m module.Module) error
}

// Postprocessor runs after the module body, even when the body failed.
// runErr is the body error, if any.
type Postprocessor interface {
	Postprocess(ctx context.Context, m module.Module, runErr error) error
}

// PreprocessorFunc adapts a function to Preprocessor.
type PreprocessorFunc func(ctx context.Context, m module.Module) error

// Preprocess calls f(ctx, m).
func (f PreprocessorFunc) Preprocess(ctx context.Context, m module.Module) error { return f(ctx, m) }

// PostprocessorFunc adapts a function to Postprocessor.
type PostprocessorFunc func(ctx context.Context, m module.Module, runErr error) error

// Postprocess calls f(ctx, m, runErr).
func (f PostprocessorFunc) Postprocess(ctx context.Context, m module.Module, runErr error) error {
	return f(ctx, m, runErr)
}

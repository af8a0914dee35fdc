package ml

import (
	"errors"
	"fmt"
)

var (
	// ErrModelLoad matches every *ModelLoadError via errors.Is.
	ErrModelLoad = errors.New("model load failed")
	// ErrInference matches every *InferenceError via errors.Is.
	ErrInference = errors.New("inference failed")
)

// ModelLoadError reports an artifact that could not be read, parsed or
// validated. It is fatal at startup.
type ModelLoadError struct {
	Target string
	Path   string
	Err    error
}

func (e *ModelLoadError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("load %s model from %s: %v", e.Target, e.Path, e.Err)
	}
	return fmt.Sprintf("load model from %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

func (e *ModelLoadError) Is(target error) bool { return target == ErrModelLoad }

// InferenceError reports a feature record that does not match what a
// predictor expects: a missing, extra or reordered column, a wrong type,
// or a value outside its domain.
type InferenceError struct {
	Field  string
	Reason string
}

func (e *InferenceError) Error() string {
	if e.Field == "" {
		return "inference: " + e.Reason
	}
	return fmt.Sprintf("inference: field %s: %s", e.Field, e.Reason)
}

func (e *InferenceError) Is(target error) bool { return target == ErrInference }

func inferenceErrorf(field, format string, args ...interface{}) *InferenceError {
	return &InferenceError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

package modelcache

import (
	"errors"
	"fmt"
)

// ErrUnknownModel marks requests for ids outside the registry.
var ErrUnknownModel = errors.New("model not in registry")

// ErrResourcesExhausted marks loads rejected by the resource probe or by a
// zero non-pinned capacity.
var ErrResourcesExhausted = errors.New("insufficient resources for model load")

// LoadError reports a failed model acquisition. Every GetOrLoad failure is a
// *LoadError; Cause carries the underlying reason (loader error, timeout,
// caller cancellation, unknown id).
type LoadError struct {
	ModelID string
	Cause   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("model %s load failed: %v", e.ModelID, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

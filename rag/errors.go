package rag

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrEmbeddingProvider = errors.New("embedding provider error")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrMalformedInput    = errors.New("malformed input")
)

// ProviderError wraps a failure of the embedding provider. It matches
// ErrEmbeddingProvider and unwraps to the provider's own error.
type ProviderError struct {
	Recording string
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Recording == "" {
		return fmt.Sprintf("%s: %v", ErrEmbeddingProvider, e.Err)
	}
	return fmt.Sprintf("%s (recording %s): %v", ErrEmbeddingProvider, e.Recording, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrEmbeddingProvider }

package storage

import (
	"errors"
	"fmt"

	"github.com/scrypster/rollcall/pkg/types"
)

var (
	// ErrNotFound indicates that the requested mapping was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

const (
	// DefaultHistoryLimit is used when History is called without a limit.
	DefaultHistoryLimit = 50

	// MaxHistoryLimit caps a single History page.
	MaxHistoryLimit = 1000
)

// NormalizeHistoryLimit applies the default and maximum to limit.
func NormalizeHistoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// ValidateMapping wraps mapping validation failures in ErrInvalidInput.
func ValidateMapping(mapping *types.LearnedMapping) error {
	if mapping == nil {
		return ErrInvalidInput
	}
	if err := mapping.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

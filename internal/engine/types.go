// Package engine resolves raw transcript speaker names to roster identities.
// A resolution runs a fixed sequence of stages (exact, learned, fuzzy,
// semantic) and stops at the first one that produces a usable answer.
// Results below the auto-accept threshold are parked as pending reviews until
// an operator confirms or rejects them.
package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRequest is returned for requests missing a scope, a transcript
	// name or a roster.
	ErrInvalidRequest = errors.New("invalid resolution request")

	// ErrMatcherUnavailable is reported by the semantic matcher when it is not
	// configured or the call failed. The resolver recovers from it locally.
	ErrMatcherUnavailable = errors.New("semantic matcher unavailable")

	// ErrStoreWriteFailed is returned when a confirmation could not be persisted.
	ErrStoreWriteFailed = errors.New("mapping store write failed")
)

const (
	// ExactConfidence is assigned to exact roster matches.
	ExactConfidence = 1.0

	// LearnedConfidence is assigned to hits from the mapping store.
	LearnedConfidence = 0.95

	// DefaultAutoAcceptThreshold is the confidence at or above which a result
	// needs no human review.
	DefaultAutoAcceptThreshold = 0.85

	// DefaultNoiseFloor is the fuzzy score below which the semantic stage is
	// not attempted.
	DefaultNoiseFloor = 0.4

	// DefaultMaxAlternatives bounds ResolutionResult.Alternatives.
	DefaultMaxAlternatives = 3

	// DefaultPendingTTL is how long a pending review is kept.
	DefaultPendingTTL = 7 * 24 * time.Hour

	// DefaultOperator is recorded when a confirmation names no operator.
	DefaultOperator = "auto"
)

// Config holds the resolver thresholds.
type Config struct {
	// AutoAcceptThreshold is the minimum confidence for a result that needs no
	// review (default: 0.85).
	AutoAcceptThreshold float64

	// NoiseFloor is the minimum fuzzy score that escalates to the semantic
	// stage (default: 0.4).
	NoiseFloor float64

	// MaxAlternatives is the number of runner-up candidates kept on a result
	// (default: 3).
	MaxAlternatives int

	// PendingTTL is the lifetime of a pending review (default: 7 days).
	PendingTTL time.Duration
}

// DefaultConfig returns a Config with the standard thresholds.
func DefaultConfig() Config {
	return Config{
		AutoAcceptThreshold: DefaultAutoAcceptThreshold,
		NoiseFloor:          DefaultNoiseFloor,
		MaxAlternatives:     DefaultMaxAlternatives,
		PendingTTL:          DefaultPendingTTL,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.AutoAcceptThreshold <= 0 || c.AutoAcceptThreshold > 1 {
		return fmt.Errorf("AutoAcceptThreshold must be in (0, 1], got %v", c.AutoAcceptThreshold)
	}
	if c.NoiseFloor < 0 || c.NoiseFloor >= c.AutoAcceptThreshold {
		return fmt.Errorf("NoiseFloor must be in [0, AutoAcceptThreshold), got %v", c.NoiseFloor)
	}
	if c.MaxAlternatives < 0 {
		return fmt.Errorf("MaxAlternatives must be >= 0, got %d", c.MaxAlternatives)
	}
	if c.PendingTTL <= 0 {
		return fmt.Errorf("PendingTTL must be > 0, got %v", c.PendingTTL)
	}
	return nil
}

// ReviewEventKind classifies changes to the review queue.
type ReviewEventKind string

const (
	EventPendingCreated   ReviewEventKind = "pending_created"
	EventPendingRejected  ReviewEventKind = "pending_rejected"
	EventPendingExpired   ReviewEventKind = "pending_expired"
	EventMappingConfirmed ReviewEventKind = "mapping_confirmed"
	EventMappingForgotten ReviewEventKind = "mapping_forgotten"
)

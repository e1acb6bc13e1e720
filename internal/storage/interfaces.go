// Package storage provides the persistence interfaces for learned speaker
// mappings.
//
// Backends live in subpackages (sqlite, postgres). Every backend keys rows by
// (scope, types.NormalizeKey(transcript_name)) and enforces uniqueness of that
// key at the storage layer, so concurrent confirmations for the same key
// collapse into a single row with last-write-wins semantics.
package storage

import (
	"context"

	"github.com/scrypster/rollcall/pkg/types"
)

// MappingStore persists human-confirmed transcript name → identity mappings.
type MappingStore interface {
	// Get returns the mapping for (scope, transcriptName).
	// The name is normalized with types.NormalizeKey before lookup.
	// Returns ErrNotFound if no mapping exists.
	Get(ctx context.Context, scope, transcriptName string) (*types.LearnedMapping, error)

	// Put creates or overwrites the mapping for (scope, transcriptName) and
	// appends a confirm event to the scope history. The write is durable
	// before Put returns.
	Put(ctx context.Context, mapping *types.LearnedMapping) error

	// Delete removes the mapping and records a delete event performed by actor.
	// Returns ErrNotFound if no mapping exists.
	Delete(ctx context.Context, scope, transcriptName, actor string) error

	// List returns every mapping in scope ordered by transcript key.
	List(ctx context.Context, scope string) ([]types.LearnedMapping, error)

	// History returns the most recent mapping events for scope, newest first.
	// limit <= 0 selects DefaultHistoryLimit.
	History(ctx context.Context, scope string, limit int) ([]types.MappingEvent, error)

	// Close releases any resources held by the store.
	Close() error
}

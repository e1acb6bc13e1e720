// Package postgres provides a PostgreSQL implementation of storage interfaces.
// This file contains test helpers only available during testing.
package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from the mapping tables. It is exported so
// that the postgres_test package can reset state between tests.
func (s *MappingStore) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE learned_mappings, mapping_history RESTART IDENTITY")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate mapping tables: %w", err)
	}
	return nil
}

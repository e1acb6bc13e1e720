// Package backup takes verified point-in-time snapshots of the SQLite mapping
// database and prunes old ones with a tiered retention policy.
package backup

import (
	"time"
)

// Config holds snapshot configuration.
type Config struct {
	// DBPath is the SQLite mapping database to snapshot.
	DBPath string

	// Dir is where snapshots are written.
	Dir string

	// Retention decides which snapshots survive pruning.
	Retention RetentionPolicy

	// SkipVerify disables the integrity check after each snapshot.
	SkipVerify bool
}

// RetentionPolicy keeps the newest KeepLast snapshots, plus the newest
// snapshot of each of the last KeepDaily days and KeepWeekly ISO weeks.
// Everything else is deleted.
type RetentionPolicy struct {
	KeepLast   int // default: 5
	KeepDaily  int // default: 7
	KeepWeekly int // default: 4
}

// DefaultRetentionPolicy returns the default policy.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{KeepLast: 5, KeepDaily: 7, KeepWeekly: 4}
}

// Snapshot describes one snapshot file.
type Snapshot struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
	Verified  bool      `json:"verified"`
}

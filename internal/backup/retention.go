package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	snapshotPrefix = "rollcall-mappings-"
	snapshotSuffix = ".db"
	// stampLayout sorts lexically and has no characters that need escaping
	// in a file name.
	stampLayout = "20060102T150405.000000000Z"
)

func snapshotName(at time.Time) string {
	return snapshotPrefix + at.UTC().Format(stampLayout) + snapshotSuffix
}

// parseSnapshotName returns the creation time encoded in a snapshot file
// name. ok is false for files that are not snapshots.
func parseSnapshotName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)
	at, err := time.Parse(stampLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// listSnapshots returns the snapshots in dir, newest first. A missing
// directory has no snapshots.
func listSnapshots(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	snapshots := []Snapshot{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		at, ok := parseSnapshotName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Snapshot{
			Path:      filepath.Join(dir, entry.Name()),
			CreatedAt: at,
			Size:      info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

// selectExpired returns the snapshots policy does not keep. snapshots must be
// sorted newest first.
func selectExpired(snapshots []Snapshot, policy RetentionPolicy) []Snapshot {
	keep := make(map[string]bool, len(snapshots))

	for i := 0; i < len(snapshots) && i < policy.KeepLast; i++ {
		keep[snapshots[i].Path] = true
	}

	keepNewestPerBucket(snapshots, policy.KeepDaily, keep, func(t time.Time) string {
		return t.UTC().Format("2006-01-02")
	})
	keepNewestPerBucket(snapshots, policy.KeepWeekly, keep, func(t time.Time) string {
		year, week := t.UTC().ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	})

	var expired []Snapshot
	for _, s := range snapshots {
		if !keep[s.Path] {
			expired = append(expired, s)
		}
	}
	return expired
}

// keepNewestPerBucket marks the newest snapshot of each of the first n
// distinct buckets.
func keepNewestPerBucket(snapshots []Snapshot, n int, keep map[string]bool, bucket func(time.Time) string) {
	seen := make(map[string]bool)
	for _, s := range snapshots {
		if len(seen) >= n {
			return
		}
		b := bucket(s.CreatedAt)
		if seen[b] {
			continue
		}
		seen[b] = true
		keep[s.Path] = true
	}
}

// prune deletes the snapshots in dir that policy does not keep and returns
// them.
func prune(dir string, policy RetentionPolicy) ([]Snapshot, error) {
	snapshots, err := listSnapshots(dir)
	if err != nil {
		return nil, err
	}

	expired := selectExpired(snapshots, policy)
	var lastErr error
	for _, s := range expired {
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return expired, fmt.Errorf("failed to delete some snapshots: %w", lastErr)
	}
	return expired, nil
}

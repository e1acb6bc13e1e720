package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func makeSnapshots(t *testing.T, dir string, times ...time.Time) {
	t.Helper()
	for _, at := range times {
		if err := os.WriteFile(filepath.Join(dir, snapshotName(at)), []byte("x"), 0o644); err != nil {
			t.Fatalf("write snapshot: %v", err)
		}
	}
}

func TestSnapshotName_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)

	got, ok := parseSnapshotName(snapshotName(at))
	if !ok {
		t.Fatal("expected snapshot name to parse")
	}
	if !got.Equal(at) {
		t.Errorf("got %v, want %v", got, at)
	}

	for _, name := range []string{"rollcall.db", "rollcall-mappings-nope.db", "rollcall-mappings-20260314T150926.000000000Z.txt"} {
		if _, ok := parseSnapshotName(name); ok {
			t.Errorf("%q should not parse as a snapshot", name)
		}
	}
}

func TestListSnapshots_NewestFirstAndIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	makeSnapshots(t, dir, base, base.Add(2*time.Hour), base.Add(time.Hour))
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	snapshots, err := listSnapshots(dir)
	if err != nil {
		t.Fatalf("listSnapshots: %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(snapshots))
	}
	for i := 1; i < len(snapshots); i++ {
		if !snapshots[i-1].CreatedAt.After(snapshots[i].CreatedAt) {
			t.Errorf("snapshots not sorted newest first at %d", i)
		}
	}
}

func TestListSnapshots_MissingDir(t *testing.T) {
	snapshots, err := listSnapshots(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("listSnapshots: %v", err)
	}
	if len(snapshots) != 0 {
		t.Errorf("got %d snapshots, want 0", len(snapshots))
	}
}

func TestSelectExpired_KeepLast(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var snapshots []Snapshot
	for i := 9; i >= 0; i-- {
		at := base.Add(time.Duration(i) * time.Minute)
		snapshots = append(snapshots, Snapshot{Path: snapshotName(at), CreatedAt: at})
	}

	expired := selectExpired(snapshots, RetentionPolicy{KeepLast: 3})
	if len(expired) != 7 {
		t.Fatalf("got %d expired, want 7", len(expired))
	}
	for _, s := range expired {
		if !s.CreatedAt.Before(base.Add(7 * time.Minute)) {
			t.Errorf("recent snapshot %s expired", s.Path)
		}
	}
}

func TestSelectExpired_DailyAndWeeklyBuckets(t *testing.T) {
	// Two snapshots per day for 21 days, newest first.
	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	var snapshots []Snapshot
	for day := 20; day >= 0; day-- {
		for _, hour := range []int{12, 0} {
			at := base.AddDate(0, 0, day).Add(time.Duration(hour) * time.Hour)
			snapshots = append(snapshots, Snapshot{Path: snapshotName(at), CreatedAt: at})
		}
	}

	policy := RetentionPolicy{KeepLast: 1, KeepDaily: 3, KeepWeekly: 2}
	expired := selectExpired(snapshots, policy)

	kept := len(snapshots) - len(expired)
	// The newest snapshot is also the newest of its day and its week, so the
	// survivors are at most 1 + 3 + 2 and at least the 3 daily picks.
	if kept < 3 || kept > 6 {
		t.Fatalf("kept %d snapshots, want between 3 and 6", kept)
	}

	expiredSet := make(map[string]bool, len(expired))
	for _, s := range expired {
		expiredSet[s.Path] = true
	}
	if expiredSet[snapshots[0].Path] {
		t.Error("newest snapshot must be kept")
	}
	if expiredSet[snapshots[2].Path] {
		t.Error("newest snapshot of the previous day must be kept")
	}
	if !expiredSet[snapshots[1].Path] {
		t.Error("older snapshot of the newest day should expire")
	}
}

func TestPrune_DeletesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	makeSnapshots(t, dir, base, base.Add(time.Minute), base.Add(2*time.Minute))

	expired, err := prune(dir, RetentionPolicy{KeepLast: 1})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("got %d expired, want 2", len(expired))
	}

	remaining, err := listSnapshots(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || !remaining[0].CreatedAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("unexpected remaining snapshots: %+v", remaining)
	}
}

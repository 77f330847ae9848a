package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scanner/internal/model"
	"scanner/internal/store/storetest"
)

func TestRunDeletesExpiredTempFiles(t *testing.T) {
	dir := t.TempDir()
	oldFile := filepath.Join(dir, "scanner-detect-old.json")
	newFile := filepath.Join(dir, "scanner-detect-new.json")
	for _, f := range []string{oldFile, newFile} {
		if err := os.WriteFile(f, []byte("x"), 0o600); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	stale := time.Now().Add(-10 * time.Minute)
	if err := os.Chtimes(oldFile, stale, stale); err != nil {
		t.Fatalf("age fixture: %v", err)
	}

	w := NewWorker(storetest.New(), dir)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("expired temp file still present")
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Error("fresh temp file was deleted")
	}
}

func TestRunPrunesTerminalJobsAndReadNotifications(t *testing.T) {
	fake := storetest.New()
	longAgo := time.Now().Add(-60 * 24 * time.Hour)

	fake.JobRows["old-done"] = &model.ScanJob{ID: "old-done", Status: model.JobStatusCompleted, CompletedAt: longAgo}
	fake.JobRows["old-running"] = &model.ScanJob{ID: "old-running", Status: model.JobStatusRunning, StartedAt: longAgo}
	fake.JobRows["recent"] = &model.ScanJob{ID: "recent", Status: model.JobStatusCompleted, CompletedAt: time.Now()}

	fake.NotificationRows = []*model.Notification{
		{ID: "n-old-read", Read: true, CreatedAt: time.Now().Add(-120 * 24 * time.Hour)},
		{ID: "n-old-unread", Read: false, CreatedAt: time.Now().Add(-120 * 24 * time.Hour)},
		{ID: "n-new-read", Read: true, CreatedAt: time.Now()},
	}

	w := NewWorker(fake, "")
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := fake.JobRows["old-done"]; ok {
		t.Error("expired terminal job not pruned")
	}
	if _, ok := fake.JobRows["old-running"]; !ok {
		t.Error("running job pruned; only completed/failed jobs expire")
	}
	if _, ok := fake.JobRows["recent"]; !ok {
		t.Error("recent job pruned")
	}

	remaining := map[string]bool{}
	for _, n := range fake.NotificationRows {
		remaining[n.ID] = true
	}
	if remaining["n-old-read"] {
		t.Error("old read notification not pruned")
	}
	if !remaining["n-old-unread"] || !remaining["n-new-read"] {
		t.Error("unread or recent notification wrongly pruned")
	}
}

func TestRunSweepsDiscoveredImageRetention(t *testing.T) {
	fake := storetest.New()
	fTrue, fFalse := true, false
	longAgo := time.Now().Add(-40 * 24 * time.Hour)

	fake.ImageRows["neg-old"] = &model.DiscoveredImage{ID: "neg-old", SourceURL: "u1", HasFaces: &fFalse, DiscoveredAt: longAgo}
	fake.ImageRows["neg-new"] = &model.DiscoveredImage{ID: "neg-new", SourceURL: "u2", HasFaces: &fFalse, DiscoveredAt: time.Now()}
	fake.ImageRows["pos-orphan"] = &model.DiscoveredImage{ID: "pos-orphan", SourceURL: "u3", HasFaces: &fTrue, DiscoveredAt: longAgo}
	fake.ImageRows["pos-matched"] = &model.DiscoveredImage{ID: "pos-matched", SourceURL: "u4", HasFaces: &fTrue, DiscoveredAt: longAgo}
	fake.MatchRows["m-1"] = &model.Match{ID: "m-1", ImageID: "pos-matched", ContributorID: "alice"}

	w := NewWorker(fake, "")
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := fake.ImageRows["neg-old"]; ok {
		t.Error("old face-negative image not pruned")
	}
	if _, ok := fake.ImageRows["neg-new"]; !ok {
		t.Error("recent face-negative image wrongly pruned")
	}
	if _, ok := fake.ImageRows["pos-orphan"]; ok {
		t.Error("old face-positive orphan not pruned")
	}
	if _, ok := fake.ImageRows["pos-matched"]; !ok {
		t.Error("face-positive image with a match wrongly pruned")
	}
}

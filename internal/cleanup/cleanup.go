// Package cleanup implements the hourly retention pass: five
// LIMIT-batched delete rules plus temp-file GC, all run once per hour
// from the scheduler's outer loop rather than their own ticker.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scanner/internal/logger"
	"scanner/internal/store"
)

// Default retention windows, overridable via Worker fields.
const (
	DefaultFaceNegativeRetention = 7 * 24 * time.Hour
	DefaultOrphanRetention       = 30 * 24 * time.Hour
	DefaultEmbeddingRetention    = 60 * 24 * time.Hour
	DefaultJobRetention          = 30 * 24 * time.Hour
	DefaultNotificationRetention = 90 * 24 * time.Hour
	DefaultTempFileRetention     = 5 * time.Minute
	DefaultBatchLimit            = 500
)

// Worker runs one retention pass.
type Worker struct {
	Store store.Store
	Temp  string

	FaceNegativeRetention time.Duration
	OrphanRetention       time.Duration
	EmbeddingRetention    time.Duration
	JobRetention          time.Duration
	NotificationRetention time.Duration
	TempFileRetention     time.Duration
	BatchLimit            int
}

// NewWorker builds a cleanup Worker with the default retention windows.
func NewWorker(st store.Store, tempDir string) *Worker {
	return &Worker{
		Store:                 st,
		Temp:                  tempDir,
		FaceNegativeRetention: DefaultFaceNegativeRetention,
		OrphanRetention:       DefaultOrphanRetention,
		EmbeddingRetention:    DefaultEmbeddingRetention,
		JobRetention:          DefaultJobRetention,
		NotificationRetention: DefaultNotificationRetention,
		TempFileRetention:     DefaultTempFileRetention,
		BatchLimit:            DefaultBatchLimit,
	}
}

// Run executes every retention rule in turn, logging and continuing past
// any individual rule's failure.
func (w *Worker) Run(ctx context.Context) error {
	faceFalse := false
	n, err := w.Store.DiscoveredImages().DeleteOlderThan(ctx, &faceFalse, w.FaceNegativeRetention, w.BatchLimit)
	w.report("cleanup_face_negative_images", n, err)

	n, err = w.Store.DiscoveredImages().DeleteFacePositiveWithoutChildren(ctx, w.OrphanRetention, w.BatchLimit)
	w.report("cleanup_orphan_face_positive_images", n, err)

	n, err = w.Store.FaceEmbeddings().DeleteOlderThan(ctx, w.EmbeddingRetention, w.BatchLimit)
	w.report("cleanup_face_embeddings", n, err)

	n, err = w.Store.Jobs().DeleteOld(ctx, w.JobRetention, w.BatchLimit)
	w.report("cleanup_scan_jobs", n, err)

	n, err = w.Store.Notifications().DeleteReadOlderThan(ctx, w.NotificationRetention, w.BatchLimit)
	w.report("cleanup_notifications", n, err)

	if w.Temp != "" {
		n, err = w.cleanTempFiles()
		w.report("cleanup_temp_files", n, err)
	}
	return nil
}

func (w *Worker) report(event string, n int, err error) {
	if err != nil {
		logger.ErrorEvent(event+"_failed", err).Send()
		return
	}
	logger.Event(event).Int("deleted", n).Send()
}

// cleanTempFiles removes files under Temp older than TempFileRetention
//.
func (w *Worker) cleanTempFiles() (int, error) {
	entries, err := os.ReadDir(w.Temp)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("cleanup: read temp dir %s: %w", w.Temp, err)
	}

	cutoff := time.Now().Add(-w.TempFileRetention)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(w.Temp, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

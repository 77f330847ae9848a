// Package scan drives the third discovery source: upload a
// contributor's own reference photos to the reverse-image-search
// provider, then run every returned URL through the shared per-image
// pipeline (dedup, phash, face detection, embedding storage).
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scanner/internal/detect"
	"scanner/internal/download"
	"scanner/internal/logger"
	"scanner/internal/model"
	"scanner/internal/objectstorage"
	"scanner/internal/phash"
	"scanner/internal/reverseimage"
	"scanner/internal/store"
	"scanner/internal/tierpolicy"
	"scanner/internal/vectorutil"
)

// PhashDeduper is the short-window near-duplicate check backed by
// internal/devstore: reverse-image providers frequently return the same
// creative re-hosted under many URLs within minutes of each other, and
// the URL-hash dedup alone can't catch those.
type PhashDeduper interface {
	SeenRecently(hash uint64, window time.Duration, hammingThreshold int) (bool, error)
}

// Near-duplicate window parameters for PhashDeduper.
const (
	phashWindow           = time.Hour
	phashHammingThreshold = 6
)

// Worker drives one contributor's reverse-image scan to completion.
type Worker struct {
	Store    store.Store
	Objects  *objectstorage.Client
	Download *download.Client
	Reverse  *reverseimage.Client
	Provider detect.Provider
	TopK     int
	Dedup    PhashDeduper // optional; nil skips the phash window check
}

// NewWorker builds a scan Worker. topK defaults to 5, matching the
// matching engine's default.
func NewWorker(st store.Store, objects *objectstorage.Client, dl *download.Client, rev *reverseimage.Client, provider detect.Provider, topK int) *Worker {
	if topK <= 0 {
		topK = 5
	}
	return &Worker{Store: st, Objects: objects, Download: dl, Reverse: rev, Provider: provider, TopK: topK}
}

// RunDue runs every contributor scan schedule due as of now, in priority
// order, continuing past per-contributor failures.
func (w *Worker) RunDue(ctx context.Context, now time.Time, limit int) error {
	due, err := w.Store.ScanSchedules().Due(ctx, now, limit)
	if err != nil {
		return fmt.Errorf("scan: list due schedules: %w", err)
	}
	for _, sched := range due {
		if err := w.RunOne(ctx, sched.ContributorID); err != nil {
			logger.ErrorEvent("scan_contributor_failed", err).Str("contributor_id", sched.ContributorID).Send()
		}
	}
	return nil
}

// RunOne runs a single contributor's reverse-image scan to completion.
func (w *Worker) RunOne(ctx context.Context, contributorID string) error {
	contributor, err := w.Store.Contributors().Get(ctx, contributorID)
	if err != nil {
		return fmt.Errorf("scan: get contributor %s: %w", contributorID, err)
	}

	embeddingCount, err := w.Store.Embeddings().CountForContributor(ctx, contributorID)
	if err != nil {
		return fmt.Errorf("scan: count embeddings for %s: %w", contributorID, err)
	}
	if embeddingCount == 0 {
		return nil // not yet eligible
	}

	job := &model.ScanJob{ID: uuid.NewString(), Type: model.JobTypeContributorScan, SourceName: contributorID}
	if err := w.Store.Jobs().Create(ctx, job); err != nil {
		return fmt.Errorf("scan: create job for %s: %w", contributorID, err)
	}
	if err := w.Store.Jobs().MarkRunning(ctx, job.ID); err != nil {
		return fmt.Errorf("scan: mark job running for %s: %w", contributorID, err)
	}

	imagesFound, facesDetected, matchesFound, runErr := w.runScan(ctx, contributor)

	policy := tierpolicy.For(contributor.Tier)
	next := time.Now().Add(policy.ReverseImageInterval)
	if err := w.Store.ScanSchedules().Advance(ctx, contributorID, next); err != nil {
		logger.ErrorEvent("scan_advance_schedule_failed", err).Str("contributor_id", contributorID).Send()
	}

	if runErr != nil {
		_ = w.Store.Jobs().MarkFailed(ctx, job.ID, runErr.Error())
		return fmt.Errorf("scan: run scan for %s: %w", contributorID, runErr)
	}
	return w.Store.Jobs().MarkCompleted(ctx, job.ID, imagesFound, facesDetected, matchesFound)
}

func (w *Worker) runScan(ctx context.Context, contributor *model.Contributor) (imagesFound, facesDetected, matchesFound int, err error) {
	policy := tierpolicy.For(contributor.Tier)

	photos, err := w.Store.Contributors().ProcessedReferenceImages(ctx, contributor.ID, policy.MaxPhotosPerScan)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("list processed reference images: %w", err)
	}

	seen := map[string]bool{}
	for _, photo := range photos {
		data, derr := w.Objects.Download(ctx, photo.Bucket, photo.Path)
		if derr != nil {
			logger.ErrorEvent("scan_photo_download_failed", derr).Str("image_id", photo.ID).Send()
			continue
		}

		backlinks, serr := w.Reverse.Search(ctx, data, photo.ID+".jpg")
		if serr != nil {
			logger.ErrorEvent("scan_reverse_search_failed", serr).Str("image_id", photo.ID).Send()
			continue
		}

		for _, hit := range backlinks {
			if hit.ImageURL == "" || seen[hit.ImageURL] {
				continue
			}
			seen[hit.ImageURL] = true

			nImages, nFaces, nMatches, perr := w.processHit(ctx, contributor, hit)
			imagesFound += nImages
			facesDetected += nFaces
			matchesFound += nMatches
			if perr != nil {
				logger.ErrorEvent("scan_process_hit_failed", perr).Str("contributor_id", contributor.ID).Str("url", hit.ImageURL).Send()
			}
		}
	}
	return imagesFound, facesDetected, matchesFound, nil
}

// processHit runs the shared per-image pipeline for one reverse-image
// backlink: dedup, phash, face detection, embedding storage, and the
// contributor fast-path comparison. Newly detected face
// embeddings are left with a null matched-at so the standard matching
// engine tick also checks them against the full registry — the target
// contributor is only the fast path, not the whole comparison.
func (w *Worker) processHit(ctx context.Context, contributor *model.Contributor, hit reverseimage.Backlink) (imagesFound, facesDetected, matchesFound int, err error) {
	result, err := w.Download.Fetch(ctx, hit.ImageURL)
	if err != nil {
		return 0, 0, 0, nil // pre-filter rejection is terminal for this URL, not an error to surface
	}

	hash, err := phash.Compute(result.Bytes)
	if err != nil {
		hash = 0
	}
	if w.Dedup != nil && hash != 0 {
		seen, derr := w.Dedup.SeenRecently(hash, phashWindow, phashHammingThreshold)
		if derr != nil {
			logger.ErrorEvent("scan_phash_window_failed", derr).Str("url", hit.ImageURL).Send()
		} else if seen {
			return 0, 0, 0, nil // visually near-identical to a recent hit
		}
	}

	imageID := uuid.NewString()
	img := model.DiscoveredImage{
		ID:        imageID,
		SourceURL: hit.ImageURL,
		PageURL:   hit.PageURL,
		Platform:  "reverse_image_scan",
		Width:     result.Width,
		Height:    result.Height,
	}
	if hash != 0 {
		img.Phash = &hash
	}

	newRows, err := w.Store.DiscoveredImages().InsertBatch(ctx, []model.DiscoveredImage{img})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("insert discovered image: %w", err)
	}
	if newRows == 0 {
		return 0, 0, 0, nil // already discovered by a prior crawl/scan/backfill
	}
	imagesFound = 1

	faces, err := w.Provider.Get(ctx, result.Bytes)
	if err != nil {
		_ = w.Store.DiscoveredImages().SetFaceResult(ctx, imageID, false, 0)
		return imagesFound, 0, 0, fmt.Errorf("detect faces: %w", err)
	}
	if len(faces) == 0 {
		return imagesFound, 0, 0, w.Store.DiscoveredImages().SetFaceResult(ctx, imageID, false, 0)
	}

	if err := w.Store.DiscoveredImages().SetFaceResult(ctx, imageID, true, len(faces)); err != nil {
		return imagesFound, 0, 0, err
	}
	facesDetected = len(faces)

	primary, perr := w.Store.Embeddings().Primary(ctx, contributor.ID)
	low, medium, high, threshErr := w.Store.MLState().Thresholds(ctx)

	for faceIdx, face := range faces {
		emb := &model.DiscoveredFaceEmbedding{
			ID:             uuid.NewString(),
			ImageID:        imageID,
			FaceIndex:      faceIdx,
			Vector:         face.Vector,
			DetectionScore: face.DetectionScore,
		}
		if err := w.Store.FaceEmbeddings().Insert(ctx, emb); err != nil {
			return imagesFound, facesDetected, matchesFound, fmt.Errorf("insert face embedding: %w", err)
		}

		if perr != nil || primary == nil || threshErr != nil {
			continue
		}
		similarity := vectorutil.CosineSimilarity(face.Vector, primary.Vector)
		if similarity < low {
			continue
		}
		m := &model.Match{
			ID:                   uuid.NewString(),
			ImageID:              imageID,
			ContributorID:        contributor.ID,
			ContributorEmbedding: primary.ID,
			FaceIndex:            faceIdx,
			SimilarityScore:      similarity,
			ConfidenceTier:       tierFor(similarity, low, medium, high),
		}
		inserted, merr := w.Store.Matches().Insert(ctx, m)
		if merr != nil {
			return imagesFound, facesDetected, matchesFound, fmt.Errorf("insert fast-path match: %w", merr)
		}
		if inserted {
			matchesFound++
		}
	}
	return imagesFound, facesDetected, matchesFound, nil
}

func tierFor(similarity, low, medium, high float64) model.ConfidenceTier {
	switch {
	case similarity >= high:
		return model.TierHigh
	case similarity >= medium:
		return model.TierMedium
	default:
		_ = low
		return model.TierLow
	}
}

// Package ingest turns pending reference images and registry selfies
// into face embeddings: download, detect, branch on face count, maintain
// the primary/centroid invariant, and trigger a one-shot historical
// backfill the first time a contributor gets an embedding. Downloaded
// bytes go to the face provider at their stored size; Worker.MaxEdge is
// not applied and no resize happens here.
package ingest

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
	"scanner/internal/store"
)

// BackfillLookback bounds how far back the one-shot backfill search
// looks for pre-existing discovered faces.
const BackfillLookback = 90 * 24 * time.Hour

// Worker drives the ingest pass over pending reference images and
// registry selfies.
type Worker struct {
	Store    store.Store
	Objects  *objectstorage.Client
	Download *download.Client
	Provider detect.Provider
	MaxEdge  int
}

// NewWorker builds an ingest Worker.
func NewWorker(st store.Store, objects *objectstorage.Client, dl *download.Client, provider detect.Provider, maxEdge int) *Worker {
	if maxEdge <= 0 {
		maxEdge = 2048
	}
	return &Worker{Store: st, Objects: objects, Download: dl, Provider: provider, MaxEdge: maxEdge}
}

// RunTick ingests a bounded batch of pending reference images and
// registry selfies.
func (w *Worker) RunTick(ctx context.Context, batchSize int) error {
	images, err := w.Store.Contributors().PendingReferenceImages(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("ingest: list pending reference images: %w", err)
	}
	for _, img := range images {
		if err := w.ingestReferenceImage(ctx, img); err != nil {
			logger.ErrorEvent("ingest_reference_image_failed", err).Str("image_id", img.ID).Send()
		}
	}

	selfies, err := w.Store.Registry().PendingSelfies(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("ingest: list pending registry selfies: %w", err)
	}
	for _, id := range selfies {
		if err := w.ingestRegistrySelfie(ctx, id); err != nil {
			logger.ErrorEvent("ingest_registry_selfie_failed", err).Str("identity_id", id.ID).Send()
		}
	}
	return nil
}

func (w *Worker) ingestReferenceImage(ctx context.Context, img model.ContributorReferenceImage) error {
	data, err := w.Objects.Download(ctx, img.Bucket, img.Path)
	if err != nil {
		return w.fail(ctx, img.ID, model.ReasonNoFaceDetected, fmt.Errorf("ingest: download reference image %s: %w", img.ID, err))
	}

	faces, err := w.Provider.Get(ctx, data)
	if err != nil {
		return w.fail(ctx, img.ID, model.ReasonNoFaceDetected, fmt.Errorf("ingest: detect faces in %s: %w", img.ID, err))
	}

	switch {
	case len(faces) == 0:
		return w.Store.Contributors().MarkReferenceImage(ctx, img.ID, model.EmbeddingStatusFailed, model.ReasonNoFaceDetected)
	case len(faces) >= 2:
		return w.Store.Contributors().MarkReferenceImage(ctx, img.ID, model.EmbeddingStatusFailed, model.ReasonMultipleFaces)
	}

	face := faces[0]
	wasFirst, err := w.isFirstEmbedding(ctx, img.ContributorID)
	if err != nil {
		return err
	}

	emb := &model.ContributorEmbedding{
		ID:             uuid.NewString(),
		ContributorID:  img.ContributorID,
		SourceImageID:  img.ID,
		Vector:         face.Vector,
		DetectionScore: face.DetectionScore,
		Kind:           model.EmbeddingKindSingle,
	}
	if err := w.Store.Embeddings().Insert(ctx, emb); err != nil {
		return fmt.Errorf("ingest: insert embedding for %s: %w", img.ContributorID, err)
	}
	if err := w.Store.Contributors().MarkReferenceImage(ctx, img.ID, model.EmbeddingStatusProcessed, ""); err != nil {
		return err
	}

	if err := w.updatePrimaryAndCentroid(ctx, img.ContributorID); err != nil {
		return err
	}

	if wasFirst {
		if err := w.runBackfill(ctx, img.ContributorID, face.Vector); err != nil {
			logger.ErrorEvent("ingest_backfill_failed", err).Str("contributor_id", img.ContributorID).Send()
		}
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, imageID, reason string, cause error) error {
	if markErr := w.Store.Contributors().MarkReferenceImage(ctx, imageID, model.EmbeddingStatusFailed, reason); markErr != nil {
		return fmt.Errorf("%v (and failed to mark failed: %w)", cause, markErr)
	}
	return cause
}

func (w *Worker) isFirstEmbedding(ctx context.Context, contributorID string) (bool, error) {
	n, err := w.Store.Embeddings().CountForContributor(ctx, contributorID)
	if err != nil {
		return false, fmt.Errorf("ingest: count embeddings for %s: %w", contributorID, err)
	}
	return n == 0, nil
}

// updatePrimaryAndCentroid implements the primary-selection and
// centroid rules: after each insert, the highest detection-score single
// embedding becomes primary unless a centroid exists to supersede it;
// once the contributor has >= MinEmbeddings singles, recompute the
// centroid and make it primary.
func (w *Worker) updatePrimaryAndCentroid(ctx context.Context, contributorID string) error {
	singles, err := w.Store.Embeddings().ListSingles(ctx, contributorID)
	if err != nil {
		return fmt.Errorf("ingest: list singles for %s: %w", contributorID, err)
	}
	if len(singles) == 0 {
		return nil
	}

	best := singles[0]
	for _, s := range singles[1:] {
		if s.DetectionScore > best.DetectionScore {
			best = s
		}
	}
	if err := w.Store.Embeddings().SetPrimary(ctx, contributorID, best.ID); err != nil {
		return err
	}

	if len(singles) < MinEmbeddings {
		return nil
	}

	inputs := make([]weighted, len(singles))
	for i, s := range singles {
		inputs[i] = weighted{Vector: s.Vector, Weight: s.DetectionScore}
	}
	result := Compute(inputs)

	if err := w.Store.Embeddings().DeleteCentroid(ctx, contributorID); err != nil {
		return err
	}
	if err := w.Store.Embeddings().ClearPrimary(ctx, contributorID); err != nil {
		return err
	}
	centroid := &model.ContributorEmbedding{
		ID:            uuid.NewString(),
		ContributorID: contributorID,
		Vector:        result.Vector,
		IsPrimary:     true,
		Kind:          model.EmbeddingKindCentroid,
		Centroid: &model.CentroidMetadata{
			EmbeddingsUsed:    result.EmbeddingsUsed,
			EmbeddingsTotal:   result.EmbeddingsTotal,
			OutliersRejected:  result.OutliersRejected,
			AvgDetectionScore: result.AvgDetectionScore,
		},
	}
	return w.Store.Embeddings().Insert(ctx, centroid)
}

// runBackfill implements the backfill trigger: a one-shot search
// against already-discovered face embeddings the moment a contributor's
// very first embedding lands, creating matches for any hits above the
// low threshold.
func (w *Worker) runBackfill(ctx context.Context, contributorID string, vector []float32) error {
	low, _, _, err := w.Store.MLState().Thresholds(ctx)
	if err != nil {
		return fmt.Errorf("ingest: read thresholds for backfill: %w", err)
	}

	hits, err := w.Store.VectorIndex().SearchDiscoveredFaces(ctx, vector, low, BackfillLookback, 100)
	if err != nil {
		return fmt.Errorf("ingest: backfill search for %s: %w", contributorID, err)
	}

	for _, hit := range hits {
		m := &model.Match{
			ID:              uuid.NewString(),
			ImageID:         hit.ImageID,
			ContributorID:   contributorID,
			FaceIndex:       hit.FaceIndex,
			SimilarityScore: hit.Similarity,
			ConfidenceTier:  model.TierLow,
		}
		if _, err := w.Store.Matches().Insert(ctx, m); err != nil {
			return fmt.Errorf("ingest: insert backfill match: %w", err)
		}
	}
	logger.Event("ingest_backfill_complete").Str("contributor_id", contributorID).Int("hits", len(hits)).Send()
	return nil
}

func (w *Worker) ingestRegistrySelfie(ctx context.Context, id model.RegistryIdentity) error {
	data, err := w.Objects.Download(ctx, id.SelfieBucket, id.SelfiePath)
	if err != nil {
		return w.failRegistry(ctx, id.ID, fmt.Errorf("ingest: download selfie %s: %w", id.ID, err))
	}

	faces, err := w.Provider.Get(ctx, data)
	if err != nil {
		return w.failRegistry(ctx, id.ID, fmt.Errorf("ingest: detect faces in selfie %s: %w", id.ID, err))
	}
	if len(faces) != 1 {
		return w.Store.Registry().MarkFailed(ctx, id.ID, model.ReasonNoFaceDetected)
	}

	return w.Store.Registry().SetEmbedding(ctx, id.ID, faces[0].Vector)
}

func (w *Worker) failRegistry(ctx context.Context, id string, cause error) error {
	if markErr := w.Store.Registry().MarkFailed(ctx, id, model.ReasonNoFaceDetected); markErr != nil {
		return fmt.Errorf("%v (and failed to mark failed: %w)", cause, markErr)
	}
	return cause
}

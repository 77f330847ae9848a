package crawl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scanner/internal/logger"
	"scanner/internal/model"
	"scanner/internal/store"
)

// Runner dispatches registered providers against the shared store,
// implementing the uniform core: decode cursor, call the provider
// per its declared strategy, batch-insert results, persist cursor and
// coverage counters.
type Runner struct {
	Store        store.Store
	Providers    map[string]Provider
	Depth        map[string]DepthPolicy
	BatchSize    int
	DefaultModel FaceModel // used for INLINE providers
}

// NewRunner builds a Runner. batchSize defaults to 500
func NewRunner(st store.Store, providers []Provider, depth map[string]DepthPolicy, batchSize int, faceModel FaceModel) *Runner {
	if batchSize <= 0 {
		batchSize = 500
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.SourceName()] = p
	}
	return &Runner{Store: st, Providers: byName, Depth: depth, BatchSize: batchSize, DefaultModel: faceModel}
}

// RunDue crawls every platform whose schedule is due, continuing past
// per-platform errors.
func (r *Runner) RunDue(ctx context.Context, now time.Time) error {
	due, err := r.Store.PlatformSchedules().Due(ctx, now)
	if err != nil {
		return fmt.Errorf("crawl: list due platforms: %w", err)
	}
	for _, sched := range due {
		if err := r.RunOne(ctx, sched.Platform); err != nil {
			logger.ErrorEvent("crawl_platform_failed", err).Str("platform", sched.Platform).Send()
		}
	}
	return nil
}

// RunOne crawls a single platform to completion for this tick, recording
// the run as a platform_crawl scan job.
func (r *Runner) RunOne(ctx context.Context, platform string) error {
	provider, ok := r.Providers[platform]
	if !ok {
		return fmt.Errorf("crawl: no provider registered for platform %q", platform)
	}

	job := &model.ScanJob{ID: uuid.NewString(), Type: model.JobTypePlatformCrawl, SourceName: platform}
	if err := r.Store.Jobs().Create(ctx, job); err != nil {
		return fmt.Errorf("crawl: create job for %s: %w", platform, err)
	}
	if err := r.Store.Jobs().MarkRunning(ctx, job.ID); err != nil {
		return fmt.Errorf("crawl: mark job running for %s: %w", platform, err)
	}

	newRows, facesFound, err := r.runCrawl(ctx, provider, platform)
	if err != nil {
		_ = r.Store.Jobs().MarkFailed(ctx, job.ID, err.Error())
		return err
	}
	return r.Store.Jobs().MarkCompleted(ctx, job.ID, newRows, facesFound, 0)
}

func (r *Runner) runCrawl(ctx context.Context, provider Provider, platform string) (newRows, facesFound int, err error) {
	if err := r.Store.PlatformSchedules().SetPhase(ctx, platform, model.CrawlPhaseCrawling); err != nil {
		return 0, 0, fmt.Errorf("crawl: set phase for %s: %w", platform, err)
	}
	defer func() { _ = r.Store.PlatformSchedules().SetPhase(ctx, platform, model.CrawlPhaseIdle) }()

	sched, err := r.Store.PlatformSchedules().Get(ctx, platform)
	if err != nil {
		return 0, 0, fmt.Errorf("crawl: get schedule for %s: %w", platform, err)
	}
	cursor, err := DecodeCursor(sched.Cursor)
	if err != nil {
		return 0, 0, fmt.Errorf("crawl: decode cursor for %s: %w", platform, err)
	}

	depthFor := func(tag string) int { return r.Depth[platform].DepthFor(tag) }

	var result DiscoveryResult
	switch provider.Strategy() {
	case Inline:
		result, err = provider.DiscoverWithDetection(ctx, cursor, depthFor, r.DefaultModel)
	default:
		result, err = provider.Discover(ctx, cursor, depthFor)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("crawl: discover on %s: %w", platform, err)
	}

	newRows, facesFound, err = r.persist(ctx, platform, result)
	if err != nil {
		return newRows, facesFound, fmt.Errorf("crawl: persist results for %s: %w", platform, err)
	}

	mergedCursor := cursor.Merge(result)
	cursorBlob, err := mergedCursor.Encode()
	if err != nil {
		return newRows, facesFound, fmt.Errorf("crawl: encode cursor for %s: %w", platform, err)
	}
	if err := r.Store.PlatformSchedules().SaveCursor(ctx, platform, cursorBlob); err != nil {
		return newRows, facesFound, fmt.Errorf("crawl: save cursor for %s: %w", platform, err)
	}

	tagsExhausted := ExhaustedCount(result.SearchCursors) + ExhaustedCount(result.TagCursors)
	nextCrawlAt := now().Add(time.Duration(intervalHours(sched)) * time.Hour)
	if err := r.Store.PlatformSchedules().RecordCrawlResult(ctx, platform, newRows, result.TagsAttempted, tagsExhausted, now(), nextCrawlAt); err != nil {
		return newRows, facesFound, fmt.Errorf("crawl: record crawl result for %s: %w", platform, err)
	}

	logger.Event("crawl_platform_completed").
		Str("platform", platform).
		Int("new_rows", newRows).
		Int("faces_found", facesFound).
		Int("tags_exhausted", tagsExhausted).
		Send()
	return newRows, facesFound, nil
}

// persist batch-inserts discovered images in batches of r.BatchSize, and
// for INLINE results also stores the face flag and the per-face
// embeddings the provider already computed. The image batch insert, the
// face-flag update and each embedding insert are separate store calls;
// they do not share one transaction.
func (r *Runner) persist(ctx context.Context, platform string, result DiscoveryResult) (int, int, error) {
	total := 0
	faces := 0
	for start := 0; start < len(result.Images); start += r.BatchSize {
		end := start + r.BatchSize
		if end > len(result.Images) {
			end = len(result.Images)
		}
		batch := result.Images[start:end]

		rows := make([]model.DiscoveredImage, 0, len(batch))
		ids := make([]string, 0, len(batch))
		for _, hit := range batch {
			id := uuid.NewString()
			ids = append(ids, id)
			rows = append(rows, toDiscoveredImage(id, platform, hit))
		}

		n, err := r.Store.DiscoveredImages().InsertBatch(ctx, rows)
		if err != nil {
			return total, faces, err
		}
		total += n

		for i, hit := range batch {
			if len(hit.Faces) == 0 {
				continue
			}
			hasFaces := true
			if err := r.Store.DiscoveredImages().SetFaceResult(ctx, ids[i], hasFaces, len(hit.Faces)); err != nil {
				return total, faces, err
			}
			faces += len(hit.Faces)
			for faceIdx, face := range hit.Faces {
				emb := &model.DiscoveredFaceEmbedding{
					ID:             uuid.NewString(),
					ImageID:        ids[i],
					FaceIndex:      faceIdx,
					Vector:         face.Vector,
					DetectionScore: face.DetectionScore,
				}
				if err := r.Store.FaceEmbeddings().Insert(ctx, emb); err != nil {
					return total, faces, err
				}
			}
		}
	}
	return total, faces, nil
}

func intervalHours(sched *model.PlatformCrawlSchedule) int {
	if sched.IntervalHours <= 0 {
		return 6
	}
	return sched.IntervalHours
}

// now is a var so tests can freeze time.
var now = time.Now

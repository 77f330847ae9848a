// Package store is the scanner's typed data-store adapter: one repository
// interface per entity, aggregated behind a Store that every
// workstream depends on. The production implementation lives in
// postgres.go and an in-memory one for worker tests in storetest. The
// mattn/go-sqlite3-backed internal/devstore (single-shot dev runs) is a
// job-status log and phash dedup cache, not a Store implementation.
package store

import (
	"context"
	"time"

	"scanner/internal/model"
)

// ContributorRepo reads contributor and reference-image rows owned by the
// web application; the scanner never writes Contributor itself.
type ContributorRepo interface {
	Get(ctx context.Context, id string) (*model.Contributor, error)
	KnownAccounts(ctx context.Context, contributorID string) ([]model.KnownAccount, error)
	PendingReferenceImages(ctx context.Context, limit int) ([]model.ContributorReferenceImage, error)
	MarkReferenceImage(ctx context.Context, id string, status model.EmbeddingStatus, reason string) error
	// ProcessedReferenceImages returns a contributor's successfully
	// embedded reference images, used by reverse-image scans as
	// the source photos uploaded to the provider.
	ProcessedReferenceImages(ctx context.Context, contributorID string, limit int) ([]model.ContributorReferenceImage, error)
}

// EmbeddingRepo manages contributor face embeddings and primary/centroid
// bookkeeping.
type EmbeddingRepo interface {
	Insert(ctx context.Context, e *model.ContributorEmbedding) error
	ListSingles(ctx context.Context, contributorID string) ([]model.ContributorEmbedding, error)
	// Primary returns the contributor's current primary embedding (single
	// or centroid), used by reverse-image scans as the fast-path
	// comparison target.
	Primary(ctx context.Context, contributorID string) (*model.ContributorEmbedding, error)
	SetPrimary(ctx context.Context, contributorID string, embeddingID string) error
	ClearPrimary(ctx context.Context, contributorID string) error
	DeleteCentroid(ctx context.Context, contributorID string) error
	CountForContributor(ctx context.Context, contributorID string) (int, error)
}

// RegistryRepo manages the lighter-weight registry-identity claimants.
type RegistryRepo interface {
	PendingSelfies(ctx context.Context, limit int) ([]model.RegistryIdentity, error)
	SetEmbedding(ctx context.Context, identityID string, vector []float32) error
	MarkFailed(ctx context.Context, identityID string, reason string) error
}

// PlatformScheduleRepo manages the per-platform crawl schedule rows,
// including the opaque cursor blob.
type PlatformScheduleRepo interface {
	Due(ctx context.Context, now time.Time) ([]model.PlatformCrawlSchedule, error)
	Get(ctx context.Context, platform string) (*model.PlatformCrawlSchedule, error)
	SaveCursor(ctx context.Context, platform string, cursor []byte) error
	RecordCrawlResult(ctx context.Context, platform string, newRows, tagsTotal, tagsExhausted int, now time.Time, nextCrawlAt time.Time) error
	SetPhase(ctx context.Context, platform string, phase model.CrawlPhase) error
}

// ScanScheduleRepo manages the per-contributor reverse-image scan cadence.
type ScanScheduleRepo interface {
	Due(ctx context.Context, now time.Time, limit int) ([]model.ScanSchedule, error)
	Advance(ctx context.Context, contributorID string, nextScanAt time.Time) error
	Upsert(ctx context.Context, s model.ScanSchedule) error
}

// JobRepo manages the scan-job lifecycle rows.
type JobRepo interface {
	Create(ctx context.Context, job *model.ScanJob) error
	MarkRunning(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, imagesFound, facesDetected, matchesFound int) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	MarkInterrupted(ctx context.Context, id string) error
	// InterruptRunning marks every currently-running job interrupted,
	// used by the scheduler's graceful shutdown.
	InterruptRunning(ctx context.Context) (int, error)
	RecoverStale(ctx context.Context, maxAge time.Duration) (int, error)
	// DeleteOld removes completed/failed jobs older than olderThan,
	// LIMIT-batched like every other cleanup query.
	DeleteOld(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// DiscoveredImageRepo manages the discovered-image rows, including the
// URL-hash dedup and tri-valued face-flag lifecycle.
type DiscoveredImageRepo interface {
	// InsertBatch upserts images, deduped on a stable hash of SourceURL.
	// Returns the count of genuinely new rows.
	InsertBatch(ctx context.Context, images []model.DiscoveredImage) (int, error)
	// PendingFaceProbe returns images with a null face flag, newest first.
	PendingFaceProbe(ctx context.Context, limit int) ([]model.DiscoveredImage, error)
	SetFaceResult(ctx context.Context, imageID string, hasFaces bool, faceCount int) error
	SetThumbnail(ctx context.Context, imageID string, key string) error
	DeleteOlderThan(ctx context.Context, hasFaces *bool, olderThan time.Duration, limit int) (int, error)
	DeleteFacePositiveWithoutChildren(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// FaceEmbeddingRepo manages the discovered-face-embedding rows.
type FaceEmbeddingRepo interface {
	Insert(ctx context.Context, e *model.DiscoveredFaceEmbedding) error
	PendingMatch(ctx context.Context, limit int) ([]model.DiscoveredFaceEmbedding, error)
	MarkMatched(ctx context.Context, ids []string, at time.Time) error
	DeleteOlderThan(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// MatchHit is one row returned by the combined similarity query
type MatchHit struct {
	Source      string // "contributor" | "registry"
	IdentityID  string // contributor ID or registry identity ID
	EmbeddingID string
	Similarity  float64
}

// VectorIndex is the shared relational+vector database's similarity
// search surface. Implemented over pgvector in package
// internal/vectorstore.
type VectorIndex interface {
	SearchRegistry(ctx context.Context, query []float32, threshold float64, topK int, primaryOnly bool) ([]MatchHit, error)

	// SearchDiscoveredFaces runs the backfill query: given a
	// contributor's brand-new embedding, find discovered face embeddings
	// within lookback of now whose similarity to query exceeds threshold.
	SearchDiscoveredFaces(ctx context.Context, query []float32, threshold float64, lookback time.Duration, limit int) ([]DiscoveredFaceHit, error)
}

// DiscoveredFaceHit is one row returned by SearchDiscoveredFaces.
type DiscoveredFaceHit struct {
	ImageID    string
	FaceIndex  int
	Similarity float64
}

// MatchRepo manages the contributor-match rows.
type MatchRepo interface {
	// Insert returns true if a new row was created (false on conflict
	// dedup by (image, contributor)).
	Insert(ctx context.Context, m *model.Match) (bool, error)
	SetKnownAccount(ctx context.Context, matchID string, knownAccountID string) error
	SetAIClassification(ctx context.Context, matchID string, isAI bool, score float64, generator string) error
	PageURL(ctx context.Context, matchID string) (string, error)
	// ThumbnailKey returns the discovered image's stored-thumbnail object
	// key for a match, or "" if the image has none.
	ThumbnailKey(ctx context.Context, matchID string) (string, error)
}

// RegistryMatchRepo manages the registry-match rows.
type RegistryMatchRepo interface {
	Insert(ctx context.Context, m *model.RegistryMatch) (bool, error)
}

// EvidenceRepo manages the evidence rows.
type EvidenceRepo interface {
	Insert(ctx context.Context, e *model.Evidence) error
}

// NotificationRepo manages the notification rows.
type NotificationRepo interface {
	Insert(ctx context.Context, n *model.Notification) error
	DeleteReadOlderThan(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// MLStateRepo reads mutable match-threshold state: an approved
// threshold-change recommendation takes effect on the next tick because
// the matching engine re-reads this store every tick rather than caching.
type MLStateRepo interface {
	Thresholds(ctx context.Context) (low, medium, high float64, err error)
}

// Store aggregates every repository the scanner's workstreams depend on.
type Store interface {
	Contributors() ContributorRepo
	Embeddings() EmbeddingRepo
	Registry() RegistryRepo
	PlatformSchedules() PlatformScheduleRepo
	ScanSchedules() ScanScheduleRepo
	Jobs() JobRepo
	DiscoveredImages() DiscoveredImageRepo
	FaceEmbeddings() FaceEmbeddingRepo
	Matches() MatchRepo
	RegistryMatches() RegistryMatchRepo
	Evidence() EvidenceRepo
	Notifications() NotificationRepo
	MLState() MLStateRepo
	VectorIndex() VectorIndex

	Close() error
	Ping(ctx context.Context) error
}

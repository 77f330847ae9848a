// Package model holds the domain entities shared across the scanner's
// workstreams. These rows live in the shared relational+vector database;
// every package in this repo that touches the database talks in terms of
// these types rather than raw SQL rows.
package model

import "time"

// Tier is a contributor's subscription tier, which drives scan cadence and
// post-match policy (internal/tierpolicy).
type Tier string

const (
	TierFree      Tier = "free"
	TierProtected Tier = "protected"
	TierPremium   Tier = "premium"
)

// Contributor is a consenting individual. Owned by the web application;
// the scanner only ever reads this row.
type Contributor struct {
	ID                 string
	Tier               Tier
	OptedOut           bool
	Suspended          bool
	OnboardingComplete bool
}

// EmbeddingStatus is the lifecycle state of a ContributorReferenceImage.
type EmbeddingStatus string

const (
	EmbeddingStatusPending   EmbeddingStatus = "pending"
	EmbeddingStatusProcessed EmbeddingStatus = "processed"
	EmbeddingStatusFailed    EmbeddingStatus = "failed"
	EmbeddingStatusSkipped   EmbeddingStatus = "skipped"
)

// Reference-image failure reasons. Terminal: a failed reference image is
// never retried by the ingest worker.
const (
	ReasonNoFaceDetected = "no_face_detected"
	ReasonMultipleFaces  = "multiple_faces"
)

// ContributorReferenceImage is a photo uploaded during onboarding. The web
// app creates the row; the scanner transitions EmbeddingStatus.
type ContributorReferenceImage struct {
	ID              string
	ContributorID   string
	Bucket          string
	Path            string
	EmbeddingStatus EmbeddingStatus
	CaptureStep     string
	ErrorReason     string
	CreatedAt       time.Time
}

// EmbeddingKind distinguishes a single detection-derived embedding from a
// contributor's computed centroid.
type EmbeddingKind string

const (
	EmbeddingKindSingle   EmbeddingKind = "single"
	EmbeddingKindCentroid EmbeddingKind = "centroid"
)

// CentroidMetadata records how a centroid embedding was derived. Populated
// only when Kind == EmbeddingKindCentroid (internal/ingest centroid.go).
type CentroidMetadata struct {
	EmbeddingsUsed    int     `json:"embeddings_used"`
	EmbeddingsTotal   int     `json:"embeddings_total"`
	OutliersRejected  int     `json:"outliers_rejected"`
	AvgDetectionScore float64 `json:"avg_detection_score"`
}

// ContributorEmbedding is a 512-dimensional L2-normalized face vector
// belonging to a contributor. At most one row per contributor has
// IsPrimary == true.
type ContributorEmbedding struct {
	ID             string
	ContributorID  string
	SourceImageID  string
	Vector         []float32
	DetectionScore float64
	IsPrimary      bool
	Kind           EmbeddingKind
	Centroid       *CentroidMetadata
	CreatedAt      time.Time
}

// RegistryStatus is the claim state of a RegistryIdentity.
type RegistryStatus string

const (
	RegistryStatusUnclaimed RegistryStatus = "unclaimed"
	RegistryStatusClaimed   RegistryStatus = "claimed"
	RegistryStatusVerified  RegistryStatus = "verified"
)

// RegistryIdentity is a lighter-weight claimant with a single selfie and a
// single face embedding; matched separately from contributors but with the
// same confidence-tier semantics (internal/match).
type RegistryIdentity struct {
	ID              string
	SelfieBucket    string
	SelfiePath      string
	EmbeddingStatus EmbeddingStatus
	Vector          []float32
	Status          RegistryStatus
}

// CrawlPhase is the platform crawl schedule's current activity, surfaced
// for operator visibility only — it does not gate scheduling decisions.
type CrawlPhase string

const (
	CrawlPhaseIdle      CrawlPhase = "idle"
	CrawlPhaseCrawling  CrawlPhase = "crawling"
	CrawlPhaseDetecting CrawlPhase = "detecting"
	CrawlPhaseMatching  CrawlPhase = "matching"
)

// PlatformCrawlSchedule is one row per monitored platform: its cadence,
// enablement, opaque resumable cursor blob, and coverage counters.
type PlatformCrawlSchedule struct {
	Platform              string
	NextCrawlAt           time.Time
	IntervalHours         int
	Enabled               bool
	Cursor                []byte // opaque JSON; see internal/crawl/cursor.go
	TagsTotal             int
	TagsExhausted         int
	TotalImagesDiscovered int
	Phase                 CrawlPhase
	LastCrawlAt           time.Time
}

// ScanSchedule is the per-contributor reverse-image scan cadence.
type ScanSchedule struct {
	ContributorID string
	NextScanAt    time.Time
	IntervalHours int
	Priority      int
}

// JobType distinguishes the two kinds of scan job the scheduler runs.
type JobType string

const (
	JobTypeContributorScan JobType = "contributor_scan"
	JobTypePlatformCrawl   JobType = "platform_crawl"
)

// JobStatus is a ScanJob's lifecycle state.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusRunning     JobStatus = "running"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
	JobStatusInterrupted JobStatus = "interrupted"
)

// StaleJobError is the error marker stamped on a job reclassified by the
// startup stale-job reaper.
const StaleJobError = "stale_job_recovered"

// ScanJob is a single run of a contributor scan or platform crawl.
type ScanJob struct {
	ID            string
	Type          JobType
	SourceName    string // contributor ID or platform name
	Status        JobStatus
	Stage         string // optional: set for admin-triggered single-stage runs
	ImagesFound   int
	FacesDetected int
	MatchesFound  int
	ErrorMessage  string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// FaceFlag is the tri-valued detection state of a DiscoveredImage: nil
// means "not yet probed", a non-nil pointer carries the true/false result.
type FaceFlag *bool

// DiscoveredImage is one row per unique source URL found by any discovery
// source (platform crawl, reverse-image scan, or backfill).
type DiscoveredImage struct {
	ID           string
	SourceURL    string
	PageURL      string
	PageTitle    string
	Platform     string
	Phash        *uint64
	Width        int
	Height       int
	HasFaces     *bool // nil = not yet probed
	FaceCount    int
	ThumbnailKey string
	DiscoveredAt time.Time
}

// DiscoveredFaceEmbedding is one row per detected face in a
// DiscoveredImage, unique on (ImageID, FaceIndex).
type DiscoveredFaceEmbedding struct {
	ID             string
	ImageID        string
	FaceIndex      int
	Vector         []float32
	DetectionScore float64
	MatchedAt      *time.Time // nil = not yet compared against the registry
}

// ConfidenceTier buckets a match's cosine similarity.
type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "high"
	TierMedium ConfidenceTier = "medium"
	TierLow    ConfidenceTier = "low"
)

// ReviewStatus is the human-review state of a Match.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewAccepted ReviewStatus = "accepted"
	ReviewRejected ReviewStatus = "rejected"
)

// Match pairs a DiscoveredFaceEmbedding with a contributor.
type Match struct {
	ID                   string
	ImageID              string
	ContributorID        string
	ContributorEmbedding string
	FaceIndex            int
	SimilarityScore      float64
	ConfidenceTier       ConfidenceTier
	SourceAccount        string
	IsKnownAccount       bool
	KnownAccountID       string
	AIGenerated          bool
	AIGeneratedScore     float64
	AIGenerator          string
	ReviewStatus         ReviewStatus
	CreatedAt            time.Time
}

// RegistryMatch is the simpler registry-side analog of Match: no
// allowlist, no evidence, no notifications, deduped on
// (IdentityID, ImageID, FaceIndex).
type RegistryMatch struct {
	ID              string
	IdentityID      string
	ImageID         string
	FaceIndex       int
	SimilarityScore float64
	ConfidenceTier  ConfidenceTier
	CreatedAt       time.Time
}

// Evidence is a content-addressed screenshot attached to a Match.
type Evidence struct {
	ID        string
	MatchID   string
	Type      string
	URL       string
	SHA256    string
	ByteSize  int64
	CreatedAt time.Time
}

// KnownAccount is a per-contributor allowlist entry: either a
// (Platform, Handle) pair or a bare Domain.
type KnownAccount struct {
	ID            string
	ContributorID string
	Platform      string
	Handle        string
	Domain        string
}

// Notification is a to-deliver user-facing record.
type Notification struct {
	ID            string
	ContributorID string
	Title         string
	Body          string
	Payload       []byte // JSON
	Read          bool
	Sent          bool
	CreatedAt     time.Time
}

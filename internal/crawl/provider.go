// Package crawl implements the platform-crawl state machine: a
// uniform core dispatch loop over per-platform providers, each declaring
// either an INLINE (download+detect during crawl) or DEFERRED
// (URL-metadata-only) detection strategy.
package crawl

import (
	"context"

	"scanner/internal/model"
)

// DetectionStrategy is a provider's declared detection timing.
type DetectionStrategy string

const (
	// Inline providers download images and run face detection during the
	// crawl itself, returning rows already annotated with faces.
	Inline DetectionStrategy = "inline"
	// Deferred providers return URL metadata only; the worker detects
	// faces later.
	Deferred DetectionStrategy = "deferred"
)

// FaceModel is the narrow detection surface a provider needs for the
// INLINE path — the same interface internal/detect implements, kept here
// to avoid an import cycle between crawl and detect.
type FaceModel interface {
	Detect(ctx context.Context, imageBytes []byte) ([]DetectedFace, error)
}

// DetectedFace is one face found by a FaceModel, already embedding-ready.
type DetectedFace struct {
	Vector         []float32
	DetectionScore float64
}

// ImageHit is a single discovered image as a provider reports it. For
// INLINE providers, Faces is populated; for DEFERRED providers, it's nil.
type ImageHit struct {
	SourceURL string
	PageURL   string
	PageTitle string
	Width     int
	Height    int
	Faces     []DetectedFace // non-nil only for INLINE discovery
}

// DiscoveryResult is what a provider returns for one crawl invocation
//.
type DiscoveryResult struct {
	Images        []ImageHit
	NextCursor    *string
	SearchCursors map[string]*string
	TagCursors    map[string]*string
	TagsAttempted int
}

// Provider is one upstream platform. SourceName and Strategy are fixed
// per provider instance; Discover/DiscoverWithDetection are dispatched
// uniformly by the core depending on Strategy.
type Provider interface {
	SourceName() string
	Strategy() DetectionStrategy

	// Discover is used for DEFERRED providers: returns URL metadata only.
	Discover(ctx context.Context, cursor Cursor, depthFor func(tag string) int) (DiscoveryResult, error)

	// DiscoverWithDetection is used for INLINE providers: downloads and
	// detects faces during the crawl itself.
	DiscoverWithDetection(ctx context.Context, cursor Cursor, depthFor func(tag string) int, model FaceModel) (DiscoveryResult, error)
}

// DamageTier categorizes a tag's scan depth per the "damage tier"
// override (supplied by the external taxonomy mapper; the scanner core
// only consumes the resulting depth, never computes the tier itself).
type DamageTier string

const (
	DamageHigh   DamageTier = "high"
	DamageMedium DamageTier = "medium"
	DamageLow    DamageTier = "low"
)

// DepthPolicy maps tags to a configured scan depth, falling back to a
// platform-wide default for unclassified tags.
type DepthPolicy struct {
	Default int
	ByTag   map[string]DamageTier
	ByTier  map[DamageTier]int
}

// DepthFor returns the page-depth limit for tag.
func (p DepthPolicy) DepthFor(tag string) int {
	tier, ok := p.ByTag[tag]
	if !ok {
		return p.Default
	}
	if d, ok := p.ByTier[tier]; ok {
		return d
	}
	return p.Default
}

// toDiscoveredImage converts a provider's ImageHit into the row shape the
// store layer persists, deriving the row's ID at the call site so the
// core controls ID generation uniformly across providers.
func toDiscoveredImage(id, platform string, hit ImageHit) model.DiscoveredImage {
	return model.DiscoveredImage{
		ID:        id,
		SourceURL: hit.SourceURL,
		PageURL:   hit.PageURL,
		PageTitle: hit.PageTitle,
		Platform:  platform,
		Width:     hit.Width,
		Height:    hit.Height,
	}
}

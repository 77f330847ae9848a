// Package match implements the matching engine: for every
// discovered face embedding with a null matched-at, query the shared
// vector index across contributors and registry identities, create
// confidence-tiered match rows, and run the gated post-match side
// effects (allowlist suppression, AI classification, evidence capture,
// notification).
package match

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scanner/internal/aiclassify"
	"scanner/internal/evidence"
	"scanner/internal/logger"
	"scanner/internal/model"
	"scanner/internal/objectstorage"
	"scanner/internal/store"
	"scanner/internal/tierpolicy"
)

// Engine drives one matching pass.
type Engine struct {
	Store    store.Store
	TopK     int
	AIClient *aiclassify.Client
	Evidence *evidence.Capturer
	Objects  *objectstorage.Client

	contributorCache map[string]*model.Contributor
	accountCache     map[string][]model.KnownAccount
}

// NewEngine builds a matching Engine. topK defaults to 5
func NewEngine(st store.Store, topK int, ai *aiclassify.Client, ev *evidence.Capturer, objects *objectstorage.Client) *Engine {
	if topK <= 0 {
		topK = 5
	}
	return &Engine{
		Store: st, TopK: topK, AIClient: ai, Evidence: ev, Objects: objects,
		contributorCache: map[string]*model.Contributor{},
		accountCache:     map[string][]model.KnownAccount{},
	}
}

// RunTick processes every pending embedding in one batch, then marks
// them all matched regardless of outcome.
func (e *Engine) RunTick(ctx context.Context, batchSize int) error {
	pending, err := e.Store.FaceEmbeddings().PendingMatch(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("match: list pending embeddings: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	// per-tick caches: contributor opt-out/suspension state must be fresh
	// every tick, not carried over from a previous one.
	e.contributorCache = map[string]*model.Contributor{}
	e.accountCache = map[string][]model.KnownAccount{}

	low, medium, high, err := e.Store.MLState().Thresholds(ctx)
	if err != nil {
		return fmt.Errorf("match: read thresholds: %w", err)
	}

	processed := make([]string, 0, len(pending))
	for _, emb := range pending {
		if err := e.processEmbedding(ctx, emb, low, medium, high); err != nil {
			logger.ErrorEvent("match_embedding_failed", err).Str("embedding_id", emb.ID).Send()
		}
		processed = append(processed, emb.ID)
	}

	if err := e.Store.FaceEmbeddings().MarkMatched(ctx, processed, time.Now()); err != nil {
		return fmt.Errorf("match: mark embeddings matched: %w", err)
	}
	return nil
}

func (e *Engine) processEmbedding(ctx context.Context, emb model.DiscoveredFaceEmbedding, low, medium, high float64) error {
	hits, err := e.Store.VectorIndex().SearchRegistry(ctx, emb.Vector, low, e.TopK, false)
	if err != nil {
		return fmt.Errorf("match: search vector index for %s: %w", emb.ID, err)
	}

	for _, hit := range hits {
		tier := confidenceTier(hit.Similarity, low, medium, high)
		if tier == "" {
			continue
		}
		if hit.Source == "registry" {
			if err := e.processRegistryHit(ctx, emb, hit, tier); err != nil {
				return err
			}
			continue
		}
		if err := e.processContributorHit(ctx, emb, hit, tier); err != nil {
			return err
		}
	}
	return nil
}

// confidenceTier buckets similarity into the four threshold zones, returning
// "" for "no match" (similarity < low; callers never reach this path
// since SearchRegistry already filters on threshold > low, but the
// boundary is re-checked here to keep the mapping self-contained).
func confidenceTier(similarity, low, medium, high float64) model.ConfidenceTier {
	switch {
	case similarity >= high:
		return model.TierHigh
	case similarity >= medium:
		return model.TierMedium
	case similarity >= low:
		return model.TierLow
	default:
		return ""
	}
}

func (e *Engine) processRegistryHit(ctx context.Context, emb model.DiscoveredFaceEmbedding, hit store.MatchHit, tier model.ConfidenceTier) error {
	rm := &model.RegistryMatch{
		ID:              uuid.NewString(),
		IdentityID:      hit.IdentityID,
		ImageID:         emb.ImageID,
		FaceIndex:       emb.FaceIndex,
		SimilarityScore: hit.Similarity,
		ConfidenceTier:  tier,
	}
	_, err := e.Store.RegistryMatches().Insert(ctx, rm)
	return err
}

func (e *Engine) processContributorHit(ctx context.Context, emb model.DiscoveredFaceEmbedding, hit store.MatchHit, tier model.ConfidenceTier) error {
	m := &model.Match{
		ID:                   uuid.NewString(),
		ImageID:              emb.ImageID,
		ContributorID:        hit.IdentityID,
		ContributorEmbedding: hit.EmbeddingID,
		FaceIndex:            emb.FaceIndex,
		SimilarityScore:      hit.Similarity,
		ConfidenceTier:       tier,
	}
	inserted, err := e.Store.Matches().Insert(ctx, m)
	if err != nil {
		return fmt.Errorf("match: insert match: %w", err)
	}
	if !inserted {
		return nil // duplicate: (image, contributor) already matched.
	}

	contributor, err := e.contributor(ctx, hit.IdentityID)
	if err != nil {
		return err
	}
	pageURL, err := e.Store.Matches().PageURL(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("match: page url for %s: %w", m.ID, err)
	}

	accounts, err := e.knownAccounts(ctx, hit.IdentityID)
	if err != nil {
		return err
	}
	if known, accountID := IsKnownAccount(pageURL, accounts); known {
		return e.Store.Matches().SetKnownAccount(ctx, m.ID, accountID)
	}

	policy := tierpolicy.For(contributor.Tier)
	if e.AIClient != nil && tierpolicy.IsPaid(contributor.Tier) && tierpolicy.AtLeast(tier, model.TierMedium) && policy.RunAIClassify {
		if err := e.classify(ctx, m.ID); err != nil {
			logger.ErrorEvent("match_ai_classify_failed", err).Str("match_id", m.ID).Send()
		}
	}
	if e.Evidence != nil && tierpolicy.IsPaid(contributor.Tier) && tierpolicy.AtLeast(tier, model.TierMedium) && policy.CaptureEvidence && pageURL != "" {
		if err := e.captureEvidence(ctx, m.ID, pageURL); err != nil {
			logger.ErrorEvent("match_evidence_failed", err).Str("match_id", m.ID).Send()
		}
	}
	if tierpolicy.AtLeast(tier, policy.NotifyAtTier) {
		if err := e.notify(ctx, contributor, m); err != nil {
			logger.ErrorEvent("match_notify_failed", err).Str("match_id", m.ID).Send()
		}
	}
	return nil
}

// classify dispatches the AI-generation check against the discovered
// image's stored thumbnail URL, not the source page. Images
// with no thumbnail (e.g. from a provider that never captured one) fall
// back to the page URL rather than skip classification outright.
func (e *Engine) classify(ctx context.Context, matchID string) error {
	imageURL, err := e.classifyTargetURL(ctx, matchID)
	if err != nil {
		return err
	}
	result, err := e.AIClient.Classify(ctx, imageURL)
	if err != nil {
		return err
	}
	return e.Store.Matches().SetAIClassification(ctx, matchID, result.IsAIGenerated, result.Score, result.Generator)
}

func (e *Engine) classifyTargetURL(ctx context.Context, matchID string) (string, error) {
	key, err := e.Store.Matches().ThumbnailKey(ctx, matchID)
	if err != nil {
		return "", err
	}
	if key != "" && e.Objects != nil {
		return e.Objects.PublicURL(objectstorage.BucketDiscoveredImages, key), nil
	}
	return e.Store.Matches().PageURL(ctx, matchID)
}

func (e *Engine) captureEvidence(ctx context.Context, matchID, pageURL string) error {
	path := fmt.Sprintf("%s.png", matchID)
	url, sha, size, err := e.Evidence.Capture(ctx, pageURL, path)
	if err != nil {
		return err
	}
	return e.Store.Evidence().Insert(ctx, &model.Evidence{
		ID:       uuid.NewString(),
		MatchID:  matchID,
		Type:     "screenshot",
		URL:      url,
		SHA256:   sha,
		ByteSize: size,
	})
}

func (e *Engine) notify(ctx context.Context, contributor *model.Contributor, m *model.Match) error {
	return e.Store.Notifications().Insert(ctx, &model.Notification{
		ID:            uuid.NewString(),
		ContributorID: contributor.ID,
		Title:         "Possible match found",
		Body:          fmt.Sprintf("A %s-confidence match was found for your likeness.", m.ConfidenceTier),
	})
}

func (e *Engine) contributor(ctx context.Context, id string) (*model.Contributor, error) {
	if c, ok := e.contributorCache[id]; ok {
		return c, nil
	}
	c, err := e.Store.Contributors().Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("match: get contributor %s: %w", id, err)
	}
	e.contributorCache[id] = c
	return c, nil
}

func (e *Engine) knownAccounts(ctx context.Context, contributorID string) ([]model.KnownAccount, error) {
	if a, ok := e.accountCache[contributorID]; ok {
		return a, nil
	}
	a, err := e.Store.Contributors().KnownAccounts(ctx, contributorID)
	if err != nil {
		return nil, fmt.Errorf("match: known accounts for %s: %w", contributorID, err)
	}
	e.accountCache[contributorID] = a
	return a, nil
}

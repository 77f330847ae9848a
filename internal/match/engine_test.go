package match

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"scanner/internal/aiclassify"
	"scanner/internal/evidence"
	"scanner/internal/model"
	"scanner/internal/objectstorage"
	"scanner/internal/ratelimit"
	"scanner/internal/store"
	"scanner/internal/store/storetest"
)

func addPendingEmbedding(fake *storetest.Fake, id, imageID string, faceIndex int) {
	fake.FaceEmbeddingRows[id] = &model.DiscoveredFaceEmbedding{
		ID:        id,
		ImageID:   imageID,
		FaceIndex: faceIndex,
		Vector:    []float32{0.5},
	}
}

func addImage(fake *storetest.Fake, id, pageURL string) {
	fake.ImageRows[id] = &model.DiscoveredImage{ID: id, SourceURL: "https://cdn.example.com/" + id + ".jpg", PageURL: pageURL}
}

func addContributor(fake *storetest.Fake, id string, tier model.Tier) {
	fake.ContributorRows[id] = &model.Contributor{ID: id, Tier: tier}
}

// TestEngineTiersAndMatchedAt walks five embeddings through the engine at
// similarities [0.92, 0.70, 0.58, 0.49, 0.95]: three match rows at tiers
// high/medium/low plus one more high, none at 0.49, and every embedding
// carries a matched-at timestamp afterward regardless of outcome.
func TestEngineTiersAndMatchedAt(t *testing.T) {
	fake := storetest.New()
	e := NewEngine(fake, 5, nil, nil, nil)
	addContributor(fake, "alice", model.TierFree)

	cases := []struct {
		similarity float64
		wantTier   model.ConfidenceTier
		wantMatch  bool
	}{
		{0.92, model.TierHigh, true},
		{0.70, model.TierMedium, true},
		{0.58, model.TierLow, true},
		{0.49, "", false},
		{0.95, model.TierHigh, true},
	}

	for i, c := range cases {
		imgID := string(rune('a'+i)) + "-img"
		embID := string(rune('a'+i)) + "-emb"
		addImage(fake, imgID, "")
		addPendingEmbedding(fake, embID, imgID, 0)
		fake.RegistryHits = []store.MatchHit{{
			Source: "contributor", IdentityID: "alice", EmbeddingID: "alice-primary", Similarity: c.similarity,
		}}

		if err := e.RunTick(context.Background(), 100); err != nil {
			t.Fatalf("RunTick(case %d): %v", i, err)
		}

		emb := fake.FaceEmbeddingRows[embID]
		if emb.MatchedAt == nil {
			t.Errorf("case %d: matched_at still null after tick", i)
		}

		found := false
		for _, m := range fake.MatchRows {
			if m.ImageID == imgID {
				found = true
				if m.ConfidenceTier != c.wantTier {
					t.Errorf("case %d: tier = %q, want %q", i, m.ConfidenceTier, c.wantTier)
				}
				if m.SimilarityScore != c.similarity {
					t.Errorf("case %d: similarity = %v, want %v", i, m.SimilarityScore, c.similarity)
				}
			}
		}
		if found != c.wantMatch {
			t.Errorf("case %d: match created = %v, want %v", i, found, c.wantMatch)
		}
	}

	if len(fake.MatchRows) != 4 {
		t.Errorf("total matches = %d, want 4", len(fake.MatchRows))
	}
}

// TestEngineIdempotentRerun re-runs the engine over an embedding that was
// already processed: matched-at bounds selection, and even a forced
// second pass dedups on (image, contributor).
func TestEngineIdempotentRerun(t *testing.T) {
	fake := storetest.New()
	e := NewEngine(fake, 5, nil, nil, nil)
	addContributor(fake, "alice", model.TierFree)
	addImage(fake, "img-1", "")
	addPendingEmbedding(fake, "emb-1", "img-1", 0)
	fake.RegistryHits = []store.MatchHit{{Source: "contributor", IdentityID: "alice", Similarity: 0.9}}

	for i := 0; i < 2; i++ {
		if err := e.RunTick(context.Background(), 100); err != nil {
			t.Fatalf("RunTick #%d: %v", i+1, err)
		}
	}
	if len(fake.MatchRows) != 1 {
		t.Fatalf("matches after double run = %d, want 1", len(fake.MatchRows))
	}

	// force re-selection: clear matched_at and run again; the (image,
	// contributor) conflict keeps the match table unchanged.
	fake.FaceEmbeddingRows["emb-1"].MatchedAt = nil
	if err := e.RunTick(context.Background(), 100); err != nil {
		t.Fatalf("forced re-run: %v", err)
	}
	if len(fake.MatchRows) != 1 {
		t.Fatalf("matches after forced re-run = %d, want 1", len(fake.MatchRows))
	}
}

// TestEngineKnownAccountSuppression covers the handle-match rule: a page
// on the same social platform but a different handle is NOT suppressed,
// while the allowlisted handle is, query-string noise and all.
func TestEngineKnownAccountSuppression(t *testing.T) {
	fake := storetest.New()
	e := NewEngine(fake, 5, nil, nil, nil)
	addContributor(fake, "bob", model.TierPremium)
	fake.AccountRows["bob"] = []model.KnownAccount{
		{ID: "ka-1", ContributorID: "bob", Platform: "instagram", Handle: "bob_official"},
	}

	addImage(fake, "img-imp", "https://www.instagram.com/bob_impersonator/")
	addPendingEmbedding(fake, "emb-imp", "img-imp", 0)
	fake.RegistryHits = []store.MatchHit{{Source: "contributor", IdentityID: "bob", Similarity: 0.9}}
	if err := e.RunTick(context.Background(), 100); err != nil {
		t.Fatalf("RunTick impersonator: %v", err)
	}

	addImage(fake, "img-own", "https://instagram.com/bob_official/?hl=en")
	addPendingEmbedding(fake, "emb-own", "img-own", 0)
	if err := e.RunTick(context.Background(), 100); err != nil {
		t.Fatalf("RunTick own account: %v", err)
	}

	for _, m := range fake.MatchRows {
		switch m.ImageID {
		case "img-imp":
			if m.IsKnownAccount {
				t.Error("impersonator page marked known-account; handle mismatch must not suppress")
			}
		case "img-own":
			if !m.IsKnownAccount {
				t.Error("allowlisted handle not marked known-account")
			}
			if m.KnownAccountID != "ka-1" {
				t.Errorf("KnownAccountID = %q, want ka-1", m.KnownAccountID)
			}
		}
	}
	if len(fake.MatchRows) != 2 {
		t.Fatalf("matches = %d, want 2", len(fake.MatchRows))
	}
}

// TestEngineNotificationGating: premium notifies from tier low, free not
// at all.
func TestEngineNotificationGating(t *testing.T) {
	fake := storetest.New()
	e := NewEngine(fake, 5, nil, nil, nil)
	addContributor(fake, "carol", model.TierPremium)
	addContributor(fake, "dan", model.TierFree)

	addImage(fake, "img-c", "")
	addPendingEmbedding(fake, "emb-c", "img-c", 0)
	fake.RegistryHits = []store.MatchHit{{Source: "contributor", IdentityID: "carol", Similarity: 0.55}}
	if err := e.RunTick(context.Background(), 100); err != nil {
		t.Fatalf("RunTick carol: %v", err)
	}
	if len(fake.NotificationRows) != 1 {
		t.Fatalf("premium low-tier notifications = %d, want 1", len(fake.NotificationRows))
	}

	addImage(fake, "img-d", "")
	addPendingEmbedding(fake, "emb-d", "img-d", 0)
	fake.RegistryHits = []store.MatchHit{{Source: "contributor", IdentityID: "dan", Similarity: 0.95}}
	if err := e.RunTick(context.Background(), 100); err != nil {
		t.Fatalf("RunTick dan: %v", err)
	}
	if len(fake.NotificationRows) != 1 {
		t.Fatalf("free-tier added a notification; total = %d, want still 1", len(fake.NotificationRows))
	}
}

type fakeBrowser struct {
	dir string
}

func (b *fakeBrowser) Capture(ctx context.Context, url string) (string, error) {
	path := filepath.Join(b.dir, "shot.png")
	return path, os.WriteFile(path, []byte("png-bytes"), 0o600)
}

func (b *fakeBrowser) Close() error { return nil }

// TestEnginePremiumSideEffects drives a medium-confidence premium match
// through the full post-match chain: AI classification against the stored
// thumbnail, evidence capture and upload, and a notification row.
func TestEnginePremiumSideEffects(t *testing.T) {
	var classifiedURL string
	aiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		classifiedURL = r.URL.Path
		_, _ = w.Write([]byte(`{"is_ai_generated": true, "score": 0.91, "generator": "stable-diffusion"}`))
	}))
	defer aiServer.Close()
	storageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer storageServer.Close()

	evidence.SetFactory(func() (evidence.Browser, error) {
		return &fakeBrowser{dir: t.TempDir()}, nil
	})
	defer func() {
		_ = evidence.Shutdown()
		evidence.SetFactory(nil)
	}()

	guard := ratelimit.NewGuard("ai-test", ratelimit.Config{RefillPerSecond: 1000, Burst: 1000, ConsecutiveFailures: 100})
	objects := objectstorage.New(storageServer.URL, "token")

	fake := storetest.New()
	e := NewEngine(fake, 5,
		aiclassify.New(aiServer.URL, "key", guard),
		&evidence.Capturer{Objects: objects},
		objects,
	)
	addContributor(fake, "alice", model.TierPremium)
	addImage(fake, "img-1", "https://blog.example.com/post")
	fake.ImageRows["img-1"].ThumbnailKey = "civitai/thumb.jpg"
	addPendingEmbedding(fake, "emb-1", "img-1", 0)
	fake.RegistryHits = []store.MatchHit{{Source: "contributor", IdentityID: "alice", Similarity: 0.72}}

	if err := e.RunTick(context.Background(), 100); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	if len(fake.MatchRows) != 1 {
		t.Fatalf("matches = %d, want 1", len(fake.MatchRows))
	}
	for _, m := range fake.MatchRows {
		if m.ConfidenceTier != model.TierMedium {
			t.Errorf("tier = %q, want medium", m.ConfidenceTier)
		}
		if !m.AIGenerated || m.AIGeneratedScore != 0.91 || m.AIGenerator != "stable-diffusion" {
			t.Errorf("AI verdict = (%v, %v, %q), want (true, 0.91, stable-diffusion)",
				m.AIGenerated, m.AIGeneratedScore, m.AIGenerator)
		}
	}
	if classifiedURL != "/classify" {
		t.Errorf("classifier endpoint = %q, want /classify", classifiedURL)
	}

	if len(fake.EvidenceRows) != 1 {
		t.Fatalf("evidence rows = %d, want 1", len(fake.EvidenceRows))
	}
	ev := fake.EvidenceRows[0]
	if ev.SHA256 == "" || ev.ByteSize == 0 || ev.URL == "" {
		t.Errorf("evidence row incomplete: %+v", ev)
	}

	if len(fake.NotificationRows) != 1 {
		t.Errorf("notifications = %d, want 1", len(fake.NotificationRows))
	}
}

// TestEngineRegistryHit: a registry-source hit creates a registry match
// row and nothing else — no allowlist, no evidence, no notification.
func TestEngineRegistryHit(t *testing.T) {
	fake := storetest.New()
	e := NewEngine(fake, 5, nil, nil, nil)
	addImage(fake, "img-r", "https://example.com/page")
	addPendingEmbedding(fake, "emb-r", "img-r", 2)
	fake.RegistryHits = []store.MatchHit{{Source: "registry", IdentityID: "ident-1", Similarity: 0.88}}

	if err := e.RunTick(context.Background(), 100); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if len(fake.RegistryMatchRows) != 1 {
		t.Fatalf("registry matches = %d, want 1", len(fake.RegistryMatchRows))
	}
	for _, rm := range fake.RegistryMatchRows {
		if rm.ConfidenceTier != model.TierHigh {
			t.Errorf("registry tier = %q, want high", rm.ConfidenceTier)
		}
		if rm.FaceIndex != 2 {
			t.Errorf("registry FaceIndex = %d, want 2", rm.FaceIndex)
		}
	}
	if len(fake.MatchRows) != 0 {
		t.Errorf("contributor matches = %d, want 0", len(fake.MatchRows))
	}
	if len(fake.NotificationRows) != 0 {
		t.Errorf("notifications = %d, want 0", len(fake.NotificationRows))
	}
}

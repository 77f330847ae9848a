package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"scanner/internal/model"
	"scanner/internal/ratelimit"
	"scanner/internal/store/storetest"
)

type scriptedProvider struct {
	name     string
	strategy DetectionStrategy
	result   DiscoveryResult
	err      error

	gotCursor Cursor
}

func (p *scriptedProvider) SourceName() string          { return p.name }
func (p *scriptedProvider) Strategy() DetectionStrategy { return p.strategy }

func (p *scriptedProvider) Discover(ctx context.Context, cursor Cursor, depthFor func(string) int) (DiscoveryResult, error) {
	p.gotCursor = cursor
	return p.result, p.err
}

func (p *scriptedProvider) DiscoverWithDetection(ctx context.Context, cursor Cursor, depthFor func(string) int, model FaceModel) (DiscoveryResult, error) {
	p.gotCursor = cursor
	return p.result, p.err
}

func newTestRunner(t *testing.T, fake *storetest.Fake, p Provider) *Runner {
	t.Helper()
	fake.PlatformRows[p.SourceName()] = &model.PlatformCrawlSchedule{
		Platform:      p.SourceName(),
		Enabled:       true,
		IntervalHours: 6,
	}
	return NewRunner(fake, []Provider{p}, map[string]DepthPolicy{p.SourceName(): {Default: 2}}, 500, nil)
}

func TestRunnerPersistsDeferredResultAndDedups(t *testing.T) {
	fake := storetest.New()
	next := "cursor-page-2"
	p := &scriptedProvider{
		name:     "civitai",
		strategy: Deferred,
		result: DiscoveryResult{
			Images: []ImageHit{
				{SourceURL: "https://cdn.example.com/a.jpg", PageURL: "https://example.com/a"},
				{SourceURL: "https://cdn.example.com/b.jpg", PageURL: "https://example.com/b"},
				{SourceURL: "https://cdn.example.com/a.jpg", PageURL: "https://example.com/a-dup"},
			},
			NextCursor:    &next,
			SearchCursors: map[string]*string{"portrait": strPtr("tok-1"), "selfie": nil},
			TagsAttempted: 2,
		},
	}
	r := newTestRunner(t, fake, p)

	if err := r.RunOne(context.Background(), "civitai"); err != nil {
		t.Fatalf("RunOne: %v", err)
	}

	// duplicate source URL collapses to one row, two new rows reported.
	if len(fake.ImageRows) != 2 {
		t.Fatalf("expected 2 discovered images, got %d", len(fake.ImageRows))
	}
	sched := fake.PlatformRows["civitai"]
	if sched.TotalImagesDiscovered != 2 {
		t.Errorf("TotalImagesDiscovered = %d, want 2 (new-rows count)", sched.TotalImagesDiscovered)
	}
	if sched.TagsTotal != 2 || sched.TagsExhausted != 1 {
		t.Errorf("coverage = (%d total, %d exhausted), want (2, 1)", sched.TagsTotal, sched.TagsExhausted)
	}
	if sched.LastCrawlAt.IsZero() {
		t.Error("LastCrawlAt not updated")
	}
	if sched.Phase != model.CrawlPhaseIdle {
		t.Errorf("phase = %q after crawl, want idle", sched.Phase)
	}

	// cursor round-trip: the blob written at tick N is the blob read at
	// tick N+1.
	var saved Cursor
	if err := json.Unmarshal(sched.Cursor, &saved); err != nil {
		t.Fatalf("decode saved cursor: %v", err)
	}
	if saved.Global == nil || *saved.Global != "cursor-page-2" {
		t.Errorf("saved global cursor = %v, want cursor-page-2", saved.Global)
	}
	if got := saved.SearchCursors["portrait"]; got == nil || *got != "tok-1" {
		t.Errorf("saved portrait cursor = %v, want tok-1", got)
	}
	// the exhausted term was discarded so it restarts from newest next tick.
	if _, present := saved.SearchCursors["selfie"]; present {
		t.Error("exhausted term retained in saved cursor; want discarded")
	}

	if err := r.RunOne(context.Background(), "civitai"); err != nil {
		t.Fatalf("second RunOne: %v", err)
	}
	if got := p.gotCursor; got.Global == nil || *got.Global != "cursor-page-2" {
		t.Errorf("second tick decoded cursor %v, want cursor-page-2", got.Global)
	}
	// second tick re-sees the same URLs: zero new rows.
	if sched.TotalImagesDiscovered != 2 {
		t.Errorf("TotalImagesDiscovered after re-crawl = %d, want 2", sched.TotalImagesDiscovered)
	}
}

func TestRunnerRecordsPlatformCrawlJob(t *testing.T) {
	fake := storetest.New()
	p := &scriptedProvider{
		name:     "civitai",
		strategy: Deferred,
		result: DiscoveryResult{
			Images: []ImageHit{{SourceURL: "https://cdn.example.com/x.jpg"}},
		},
	}
	r := newTestRunner(t, fake, p)

	if err := r.RunOne(context.Background(), "civitai"); err != nil {
		t.Fatalf("RunOne: %v", err)
	}

	if len(fake.JobRows) != 1 {
		t.Fatalf("expected 1 job row, got %d", len(fake.JobRows))
	}
	for _, job := range fake.JobRows {
		if job.Type != model.JobTypePlatformCrawl {
			t.Errorf("job type = %q, want platform_crawl", job.Type)
		}
		if job.Status != model.JobStatusCompleted {
			t.Errorf("job status = %q, want completed", job.Status)
		}
		if job.ImagesFound != 1 {
			t.Errorf("job ImagesFound = %d, want 1", job.ImagesFound)
		}
	}
}

func TestRunnerProviderErrorFailsJob(t *testing.T) {
	fake := storetest.New()
	p := &scriptedProvider{
		name:     "civitai",
		strategy: Deferred,
		err:      fmt.Errorf("upstream exploded"),
	}
	r := newTestRunner(t, fake, p)

	if err := r.RunOne(context.Background(), "civitai"); err == nil {
		t.Fatal("expected RunOne error")
	}
	for _, job := range fake.JobRows {
		if job.Status != model.JobStatusFailed {
			t.Errorf("job status = %q, want failed", job.Status)
		}
		if job.ErrorMessage == "" {
			t.Error("job ErrorMessage empty, want truncated error text")
		}
	}
}

func TestRunnerInlinePersistsEmbeddings(t *testing.T) {
	fake := storetest.New()
	p := &scriptedProvider{
		name:     "genericboard",
		strategy: Inline,
		result: DiscoveryResult{
			Images: []ImageHit{
				{
					SourceURL: "https://board.example.com/img/1.jpg",
					Faces: []DetectedFace{
						{Vector: []float32{0.1}, DetectionScore: 0.9},
						{Vector: []float32{0.2}, DetectionScore: 0.8},
					},
				},
				{SourceURL: "https://board.example.com/img/2.jpg"},
			},
		},
	}
	r := newTestRunner(t, fake, p)

	if err := r.RunOne(context.Background(), "genericboard"); err != nil {
		t.Fatalf("RunOne: %v", err)
	}

	if len(fake.FaceEmbeddingRows) != 2 {
		t.Fatalf("expected 2 face embedding rows, got %d", len(fake.FaceEmbeddingRows))
	}
	var facePositive int
	for _, img := range fake.ImageRows {
		if img.HasFaces != nil && *img.HasFaces {
			facePositive++
			if img.FaceCount != 2 {
				t.Errorf("face-positive image FaceCount = %d, want 2", img.FaceCount)
			}
		}
	}
	if facePositive != 1 {
		t.Errorf("face-positive images = %d, want 1", facePositive)
	}
	for _, job := range fake.JobRows {
		if job.FacesDetected != 2 {
			t.Errorf("job FacesDetected = %d, want 2", job.FacesDetected)
		}
	}
}

// TestCivitAICircuitOpenAbortsTick drives the per-term traversal against
// a host whose breaker trips mid-crawl: terms attempted before the trip
// keep their prior cursors, terms after it are never attempted, and the
// provider returns a partial result rather than an error so the runner
// still finishes the tick.
func TestCivitAICircuitOpenAbortsTick(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	guard := ratelimit.NewGuard("civitai-test", ratelimit.Config{
		RefillPerSecond:     1000,
		Burst:               1000,
		ConsecutiveFailures: 3,
	})
	c := NewCivitAI(server.URL, "key", guard)

	prior := Cursor{SearchCursors: map[string]*string{
		"portrait": strPtr("saved-portrait"),
		"selfie":   strPtr("saved-selfie"),
	}}
	result, err := c.Discover(context.Background(), prior, func(string) int { return 1 })
	if err != nil {
		t.Fatalf("Discover returned error, want partial result: %v", err)
	}

	// 3 consecutive failures trip the breaker (feed + first two terms);
	// every attempted term must carry its prior cursor forward.
	if result.TagsAttempted >= len(faceSearchTerms)+len(loraHumanTags) {
		t.Errorf("TagsAttempted = %d, want fewer than %d (tick aborted early)",
			result.TagsAttempted, len(faceSearchTerms)+len(loraHumanTags))
	}
	for term, cur := range result.SearchCursors {
		want := prior.SearchCursors[term]
		if (cur == nil) != (want == nil) || (cur != nil && want != nil && *cur != *want) {
			t.Errorf("term %q cursor = %v, want prior %v preserved", term, cur, want)
		}
	}
	if len(result.Images) != 0 {
		t.Errorf("expected no images from an all-500 upstream, got %d", len(result.Images))
	}
}

func TestDepthPolicyDamageTiers(t *testing.T) {
	p := DepthPolicy{
		Default: 3,
		ByTag:   map[string]DamageTier{"celebrity-lora": DamageHigh, "person-style": DamageLow},
		ByTier:  map[DamageTier]int{DamageHigh: 20, DamageLow: 1},
	}
	if got := p.DepthFor("celebrity-lora"); got != 20 {
		t.Errorf("high-damage depth = %d, want 20", got)
	}
	if got := p.DepthFor("person-style"); got != 1 {
		t.Errorf("low-damage depth = %d, want 1", got)
	}
	if got := p.DepthFor("unclassified"); got != 3 {
		t.Errorf("default depth = %d, want 3", got)
	}
}

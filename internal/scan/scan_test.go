package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scanner/internal/detect"
	"scanner/internal/download"
	"scanner/internal/model"
	"scanner/internal/objectstorage"
	"scanner/internal/ratelimit"
	"scanner/internal/reverseimage"
	"scanner/internal/store/storetest"
)

type scriptedFaces struct {
	faces []detect.Face
}

func (p *scriptedFaces) InitModel(name string) error { return nil }
func (p *scriptedFaces) Get(ctx context.Context, bgr []byte) ([]detect.Face, error) {
	return p.faces, nil
}

func fixturePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			// wrapping pattern: keeps the PNG above the download size floor
			// and gives the dHash non-monotonic brightness in both axes.
			v := uint8((x*31 + y*17) % 256)
			img.Set(x, y, color.RGBA{v, uint8((x * y) % 256), uint8(x ^ y), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func relaxedGuards() *ratelimit.Registry {
	return ratelimit.NewRegistry(func(string) ratelimit.Config {
		return ratelimit.Config{RefillPerSecond: 1000, Burst: 1000, ConsecutiveFailures: 100}
	})
}

// TestRunOneFullPipeline drives a scan end to end against httptest-backed
// collaborators: reference photo download, reverse-image search, backlink
// fetch, detection, discovered-image insert, and the contributor
// fast-path match, with the job row recording each counter.
func TestRunOneFullPipeline(t *testing.T) {
	imageBytes := fixturePNG(t)

	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(imageBytes)
	}))
	defer imageServer.Close()

	storageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(imageBytes)
	}))
	defer storageServer.Close()

	reverseServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"page_url": "https://blog.example.com/post", "image_url": imageServer.URL + "/found.png"},
			},
		})
	}))
	defer reverseServer.Close()

	fake := storetest.New()
	fake.ContributorRows["alice"] = &model.Contributor{ID: "alice", Tier: model.TierPremium}
	fake.ReferenceImageRows["ref-1"] = &model.ContributorReferenceImage{
		ID: "ref-1", ContributorID: "alice", Bucket: "reference-images", Path: "ref-1.jpg",
		EmbeddingStatus: model.EmbeddingStatusProcessed,
	}
	fake.EmbeddingRows["emb-1"] = &model.ContributorEmbedding{
		ID: "emb-1", ContributorID: "alice", Vector: []float32{1, 0, 0}, IsPrimary: true,
		Kind: model.EmbeddingKindSingle,
	}
	fake.ScheduleRows["alice"] = &model.ScanSchedule{ContributorID: "alice", NextScanAt: time.Now().Add(-time.Hour)}

	guards := relaxedGuards()
	w := NewWorker(
		fake,
		objectstorage.New(storageServer.URL, "token"),
		download.NewClient(download.NewSemaphore(5), guards),
		reverseimage.New(reverseServer.URL, "key", guards.Guard("reverse-image")),
		&scriptedFaces{faces: []detect.Face{{Vector: []float32{1, 0, 0}, DetectionScore: 0.93}}},
		5,
	)

	if err := w.RunDue(context.Background(), time.Now(), 10); err != nil {
		t.Fatalf("RunDue: %v", err)
	}

	if len(fake.ImageRows) != 1 {
		t.Fatalf("discovered images = %d, want 1", len(fake.ImageRows))
	}
	for _, img := range fake.ImageRows {
		if img.Platform != "reverse_image_scan" {
			t.Errorf("platform = %q, want reverse_image_scan", img.Platform)
		}
		if img.HasFaces == nil || !*img.HasFaces {
			t.Error("discovered image not marked face-positive")
		}
		if img.Phash == nil {
			t.Error("phash not computed for scan-discovered image")
		}
	}

	if len(fake.FaceEmbeddingRows) != 1 {
		t.Fatalf("face embeddings = %d, want 1", len(fake.FaceEmbeddingRows))
	}
	// the fast path leaves matched_at null so the matching engine still
	// compares the embedding against the full registry next tick.
	for _, e := range fake.FaceEmbeddingRows {
		if e.MatchedAt != nil {
			t.Error("fast-path embedding marked matched; registry pass would be skipped")
		}
	}

	if len(fake.MatchRows) != 1 {
		t.Fatalf("fast-path matches = %d, want 1", len(fake.MatchRows))
	}
	for _, m := range fake.MatchRows {
		if m.ContributorID != "alice" || m.ConfidenceTier != model.TierHigh {
			t.Errorf("match = (%s, %s), want (alice, high)", m.ContributorID, m.ConfidenceTier)
		}
	}

	if len(fake.JobRows) != 1 {
		t.Fatalf("jobs = %d, want 1", len(fake.JobRows))
	}
	for _, job := range fake.JobRows {
		if job.Status != model.JobStatusCompleted {
			t.Errorf("job status = %q, want completed", job.Status)
		}
		if job.ImagesFound != 1 || job.FacesDetected != 1 || job.MatchesFound != 1 {
			t.Errorf("job counters = (%d, %d, %d), want (1, 1, 1)",
				job.ImagesFound, job.FacesDetected, job.MatchesFound)
		}
	}

	if !fake.ScheduleRows["alice"].NextScanAt.After(time.Now()) {
		t.Error("scan schedule not advanced past now")
	}
}

func TestRunOneIneligibleWithoutEmbedding(t *testing.T) {
	fake := storetest.New()
	fake.ContributorRows["bob"] = &model.Contributor{ID: "bob", Tier: model.TierFree}

	w := NewWorker(fake, nil, nil, nil, &scriptedFaces{}, 5)
	if err := w.RunOne(context.Background(), "bob"); err != nil {
		t.Fatalf("RunOne: %v", err)
	}
	if len(fake.JobRows) != 0 {
		t.Errorf("jobs = %d, want 0 for an ineligible contributor", len(fake.JobRows))
	}
}

package detect

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"scanner/internal/model"
	"scanner/internal/store/storetest"
)

func TestApplyChunkOutput(t *testing.T) {
	fake := storetest.New()
	fake.ImageRows["img-faces"] = &model.DiscoveredImage{ID: "img-faces", SourceURL: "https://cdn.example.com/1.jpg"}
	fake.ImageRows["img-none"] = &model.DiscoveredImage{ID: "img-none", SourceURL: "https://cdn.example.com/2.jpg"}
	fake.ImageRows["img-dead"] = &model.DiscoveredImage{ID: "img-dead", SourceURL: "https://cdn.example.com/3.jpg"}

	d := NewDispatcher(fake, 50, 4, 0, "", "", 4096)
	output := chunkOutput{Results: []chunkResult{
		{
			ImageID: "img-faces", HasFaces: true, FaceCount: 2,
			ThumbnailKey: "civitai/abc.jpg",
			Faces: []chunkFace{
				{FaceIndex: 0, Vector: []float32{0.1}, DetectionScore: 0.95},
				{FaceIndex: 1, Vector: []float32{0.2}, DetectionScore: 0.80},
			},
		},
		{ImageID: "img-none", HasFaces: false, FaceCount: 0},
		{ImageID: "img-dead", Unprobeable: true},
	}}

	if err := d.apply(context.Background(), output); err != nil {
		t.Fatalf("apply: %v", err)
	}

	faces := fake.ImageRows["img-faces"]
	if faces.HasFaces == nil || !*faces.HasFaces || faces.FaceCount != 2 {
		t.Errorf("img-faces state = (%v, %d), want (true, 2)", faces.HasFaces, faces.FaceCount)
	}
	if faces.ThumbnailKey != "civitai/abc.jpg" {
		t.Errorf("thumbnail key = %q, want civitai/abc.jpg", faces.ThumbnailKey)
	}
	none := fake.ImageRows["img-none"]
	if none.HasFaces == nil || *none.HasFaces {
		t.Errorf("img-none HasFaces = %v, want false", none.HasFaces)
	}
	// download failure is terminal: face flag false, not left null for retry.
	dead := fake.ImageRows["img-dead"]
	if dead.HasFaces == nil || *dead.HasFaces {
		t.Errorf("img-dead HasFaces = %v, want false (terminally unprobeable)", dead.HasFaces)
	}
	if len(fake.FaceEmbeddingRows) != 2 {
		t.Fatalf("embedding rows = %d, want 2", len(fake.FaceEmbeddingRows))
	}

	// re-applying the same output is idempotent: the (image, face-index)
	// unique index absorbs the second run.
	if err := d.apply(context.Background(), output); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if len(fake.FaceEmbeddingRows) != 2 {
		t.Fatalf("embedding rows after re-apply = %d, want 2", len(fake.FaceEmbeddingRows))
	}
}

func TestProbeURL(t *testing.T) {
	cases := []struct {
		platform, source, want string
	}{
		{
			// the shape civitai's API actually returns in its url field
			"civitai",
			"https://image.civitai.com/xG1nk4M7/original=true/12345.jpeg",
			"https://image.civitai.com/xG1nk4M7/width=450/12345.jpeg",
		},
		{
			// already-transformed variant rewrites to the probe width
			"civitai",
			"https://image.civitai.com/xG1nk4M7/width=1024/12345.jpeg",
			"https://image.civitai.com/xG1nk4M7/width=450/12345.jpeg",
		},
		{"civitai", "https://image.civitai.com/xG1nk4M7/12345.jpeg", ""},
		{"genericboard", "https://board.example.com/img/original=true/1.jpg", ""},
		{"reverse_image_scan", "https://cdn.example.com/a.jpg", ""},
	}
	for _, c := range cases {
		if got := probeURL(c.platform, c.source); got != c.want {
			t.Errorf("probeURL(%s, %s) = %q, want %q", c.platform, c.source, got, c.want)
		}
	}
}

func TestResizeToMaxEdge(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 800, 400))
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	resized := resizeToMaxEdge(buf.Bytes(), 200)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(resized))
	if err != nil {
		t.Fatalf("decode resized: %v", err)
	}
	if cfg.Width != 200 || cfg.Height != 100 {
		t.Errorf("resized dims = %dx%d, want 200x100", cfg.Width, cfg.Height)
	}

	// already within the cap: bytes pass through untouched.
	same := resizeToMaxEdge(buf.Bytes(), 4096)
	if !bytes.Equal(same, buf.Bytes()) {
		t.Error("under-cap image was re-encoded; want pass-through")
	}
}

package download

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scanner/internal/ratelimit"
	"scanner/internal/scanerr"
)

// fixturePNG renders a gradient so the encoded file clears the MinBytes
// floor (a flat-color PNG compresses below it).
func fixturePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), uint8((x * y) % 256), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func testClient() *Client {
	return NewClient(NewSemaphore(5), ratelimit.NewRegistry(func(string) ratelimit.Config {
		return ratelimit.Config{RefillPerSecond: 1000, Burst: 1000, ConsecutiveFailures: 100}
	}))
}

func serve(t *testing.T, status int, contentType string, body []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchValidImage(t *testing.T) {
	body := fixturePNG(t, 300, 240)
	server := serve(t, http.StatusOK, "image/png", body)

	result, err := testClient().Fetch(context.Background(), server.URL+"/a.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.Width != 300 || result.Height != 240 {
		t.Errorf("dims = %dx%d, want 300x240", result.Width, result.Height)
	}
	if !bytes.Equal(result.Bytes, body) {
		t.Error("returned bytes differ from served bytes")
	}
}

func TestFetchRejectsNon2xx(t *testing.T) {
	server := serve(t, http.StatusNotFound, "image/png", fixturePNG(t, 300, 300))
	_, err := testClient().Fetch(context.Background(), server.URL+"/a.png")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	// a 4xx is terminal, not a transient failure worth retrying.
	if !errors.Is(err, scanerr.ErrValidationFailed) {
		t.Errorf("404 error = %v, want ErrValidationFailed", err)
	}
}

func TestFetchRejectsExcludedContentType(t *testing.T) {
	for _, ct := range []string{"video/mp4", "text/html", "application/json"} {
		server := serve(t, http.StatusOK, ct, fixturePNG(t, 300, 300))
		if _, err := testClient().Fetch(context.Background(), server.URL+"/a"); err == nil {
			t.Errorf("expected rejection for content-type %s", ct)
		} else if !strings.Contains(err.Error(), "content-type") {
			t.Errorf("content-type %s: rejected for the wrong reason: %v", ct, err)
		}
	}
}

func TestFetchRejectsTooSmallBody(t *testing.T) {
	server := serve(t, http.StatusOK, "image/jpeg", []byte{0xFF, 0xD8, 0x01, 0x02})
	_, err := testClient().Fetch(context.Background(), server.URL+"/a.jpg")
	if err == nil {
		t.Fatal("expected rejection for sub-floor byte size")
	}
	if !errors.Is(err, scanerr.ErrValidationFailed) {
		t.Errorf("undersize error = %v, want ErrValidationFailed", err)
	}
}

func TestFetchRejectsBadMagic(t *testing.T) {
	body := make([]byte, MinBytes+1)
	body[0], body[1] = 'M', 'Z'
	server := serve(t, http.StatusOK, "image/jpeg", body)
	if _, err := testClient().Fetch(context.Background(), server.URL+"/a.jpg"); err == nil {
		t.Fatal("expected rejection for non-image magic prefix")
	}
}

func TestFetchRejectsUndersizedDimensions(t *testing.T) {
	server := serve(t, http.StatusOK, "image/png", fixturePNG(t, 199, 300))
	if _, err := testClient().Fetch(context.Background(), server.URL+"/a.png"); err == nil {
		t.Fatal("expected rejection for sub-200px width")
	}
}

func TestWebPMagicAccepted(t *testing.T) {
	body := append([]byte("RIFF"), 0, 0, 0, 0)
	body = append(body, []byte("WEBP")...)
	if !hasImageMagic(body) {
		t.Error("RIFF....WEBP prefix not recognized as image magic")
	}
}

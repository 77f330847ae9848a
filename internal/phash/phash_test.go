package phash

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func solidImage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestComputeIdenticalImagesMatch(t *testing.T) {
	data := encodePNG(t, solidImage(color.Gray{Y: 128}))

	h1, err := Compute(data)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	h2, err := Compute(data)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("identical images hashed differently: %x vs %x", h1, h2)
	}
	if HammingDistance(h1, h2) != 0 {
		t.Fatalf("expected zero distance between identical hashes")
	}
}

func TestComputeInvalidData(t *testing.T) {
	if _, err := Compute([]byte("not an image")); err == nil {
		t.Fatal("expected decode error for non-image data")
	}
}

func TestHammingDistance(t *testing.T) {
	var a uint64 = 0b1010
	var b uint64 = 0b1111
	if got := HammingDistance(a, b); got != 2 {
		t.Fatalf("HammingDistance = %d, want 2", got)
	}
	if got := HammingDistance(a, a); got != 0 {
		t.Fatalf("HammingDistance(a,a) = %d, want 0", got)
	}
}

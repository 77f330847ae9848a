package detect

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// resizeToMaxEdge re-encodes data as JPEG with its long edge capped at
// maxEdge, keeping detection-model input bounded regardless of source size.
// Bytes already within the cap pass through untouched; undecodable bytes
// also pass through so the detection provider reports the failure rather
// than this helper guessing at it.
func resizeToMaxEdge(data []byte, maxEdge int) []byte {
	if maxEdge <= 0 {
		return data
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	long := w
	if h > long {
		long = h
	}
	if long <= maxEdge {
		return data
	}

	scale := float64(maxEdge) / float64(long)
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return data
	}
	return buf.Bytes()
}

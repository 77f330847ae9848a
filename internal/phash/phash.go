// Package phash computes the 64-bit difference hash (dHash) stored in
// discovered_images.phash and used for near-duplicate detection.
package phash

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"

	"golang.org/x/image/draw"
)

// hashWidth/hashHeight produce 64 adjacent-pixel comparisons (8 rows of 8
// differences each) for a 64-bit hash.
const (
	hashWidth  = 9
	hashHeight = 8
)

// Compute decodes data and returns its difference hash. Used both to
// populate discovered_images.phash and, via devstore, to dedup near-
// identical reverse-image-scan hits within a short window.
func Compute(data []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("phash: decode: %w", err)
	}

	small := image.NewGray(image.Rect(0, 0, hashWidth, hashHeight))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	var hash uint64
	for y := 0; y < hashHeight; y++ {
		for x := 0; x < hashWidth-1; x++ {
			left := small.GrayAt(x, y).Y
			right := small.GrayAt(x+1, y).Y
			hash <<= 1
			if left > right {
				hash |= 1
			}
		}
	}
	return hash, nil
}

// HammingDistance returns the number of differing bits between two hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

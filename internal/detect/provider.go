// Package detect implements the deferred face-detection worker: a
// subprocess-isolated chunk runner that processes discovered images
// with a null face-flag, plus the face-detection provider boundary
// that both the deferred worker and the crawl package's INLINE
// providers call through.
package detect

import "context"

// Face is one detected face: a normalized embedding and the model's own
// confidence in the detection (distinct from match similarity).
type Face struct {
	Vector         []float32
	DetectionScore float64
}

// Provider is the external face-detection model boundary:
// `init_model(name?)` once per process, `get(bgr_image)` per image.
type Provider interface {
	InitModel(name string) error
	Get(ctx context.Context, bgrImage []byte) ([]Face, error)
}

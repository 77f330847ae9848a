package detect

import (
	"context"

	"scanner/internal/crawl"
)

// InlineAdapter satisfies crawl.FaceModel by wrapping a Provider, letting
// INLINE crawl providers (genericboard) share the same detection
// backend as the deferred chunk worker without crawl importing detect's
// subprocess machinery.
type InlineAdapter struct {
	Provider Provider
}

func (a InlineAdapter) Detect(ctx context.Context, imageBytes []byte) ([]crawl.DetectedFace, error) {
	faces, err := a.Provider.Get(ctx, imageBytes)
	if err != nil {
		return nil, err
	}
	out := make([]crawl.DetectedFace, len(faces))
	for i, f := range faces {
		out[i] = crawl.DetectedFace{Vector: f.Vector, DetectionScore: f.DetectionScore}
	}
	return out, nil
}

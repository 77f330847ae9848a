package match

import (
	"testing"

	"scanner/internal/model"
)

func TestConfidenceTierBoundaries(t *testing.T) {
	low, medium, high := 0.50, 0.65, 0.85

	cases := []struct {
		similarity float64
		want       model.ConfidenceTier
	}{
		{0.90, model.TierHigh},
		{0.85, model.TierHigh},
		{0.70, model.TierMedium},
		{0.65, model.TierMedium},
		{0.55, model.TierLow},
		{0.50, model.TierLow},
		{0.49, ""},
		{0.0, ""},
	}

	for _, c := range cases {
		if got := confidenceTier(c.similarity, low, medium, high); got != c.want {
			t.Errorf("confidenceTier(%.2f) = %q, want %q", c.similarity, got, c.want)
		}
	}
}

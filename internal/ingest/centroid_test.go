package ingest

import (
	"math"
	"testing"

	"scanner/internal/vectorutil"
)

func unit(v []float32) []float32 { return vectorutil.Normalize(v) }

func TestComputeBasicMean(t *testing.T) {
	vectors := []weighted{
		{Vector: unit([]float32{1, 0, 0}), Weight: 1.0},
		{Vector: unit([]float32{1, 0, 0}), Weight: 1.0},
		{Vector: unit([]float32{1, 0, 0}), Weight: 1.0},
	}
	result := Compute(vectors)
	if result.EmbeddingsUsed != 3 || result.EmbeddingsTotal != 3 || result.OutliersRejected != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if math.Abs(float64(result.Vector[0])-1.0) > 1e-6 {
		t.Fatalf("expected centroid ~[1,0,0], got %v", result.Vector)
	}
}

func TestComputeRejectsOutlier(t *testing.T) {
	// three near-identical vectors plus one orthogonal outlier: the
	// outlier should be dropped since keeping 3 still satisfies
	// MinEmbeddings.
	vectors := []weighted{
		{Vector: unit([]float32{1, 0, 0}), Weight: 1.0},
		{Vector: unit([]float32{0.99, 0.01, 0}), Weight: 1.0},
		{Vector: unit([]float32{0.98, 0.02, 0}), Weight: 1.0},
		{Vector: unit([]float32{0, 1, 0}), Weight: 1.0},
	}
	result := Compute(vectors)
	if result.EmbeddingsTotal != 4 {
		t.Fatalf("expected total 4, got %d", result.EmbeddingsTotal)
	}
	if result.OutliersRejected != 1 {
		t.Fatalf("expected 1 outlier rejected, got %d", result.OutliersRejected)
	}
	if result.EmbeddingsUsed != 3 {
		t.Fatalf("expected 3 embeddings used, got %d", result.EmbeddingsUsed)
	}
}

func TestComputeKeepsAllWhenRejectionWouldDropBelowMinimum(t *testing.T) {
	// only 3 vectors total, one clearly an outlier: dropping it would
	// leave 2, below MinEmbeddings, so nothing is rejected.
	vectors := []weighted{
		{Vector: unit([]float32{1, 0, 0}), Weight: 1.0},
		{Vector: unit([]float32{0.99, 0.01, 0}), Weight: 1.0},
		{Vector: unit([]float32{0, 1, 0}), Weight: 1.0},
	}
	result := Compute(vectors)
	if result.OutliersRejected != 0 {
		t.Fatalf("expected no rejection below MinEmbeddings floor, got %d rejected", result.OutliersRejected)
	}
	if result.EmbeddingsUsed != 3 {
		t.Fatalf("expected all 3 embeddings kept, got %d", result.EmbeddingsUsed)
	}
}

func TestComputeAvgDetectionScore(t *testing.T) {
	vectors := []weighted{
		{Vector: unit([]float32{1, 0}), Weight: 0.8},
		{Vector: unit([]float32{1, 0}), Weight: 0.6},
		{Vector: unit([]float32{1, 0}), Weight: 1.0},
	}
	result := Compute(vectors)
	want := (0.8 + 0.6 + 1.0) / 3
	if math.Abs(result.AvgDetectionScore-want) > 1e-9 {
		t.Fatalf("AvgDetectionScore = %f, want %f", result.AvgDetectionScore, want)
	}
}

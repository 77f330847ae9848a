package ingest

import "scanner/internal/vectorutil"

// MinEmbeddings is the minimum number of single embeddings required
// before a centroid is computed.
const MinEmbeddings = 3

// OutlierSimilarityThreshold is the cosine-similarity floor below which
// an embedding is rejected as an outlier during centroid computation.
const OutlierSimilarityThreshold = 0.50

// weighted is one embedding plus its detection-score weight, the unit
// the centroid algorithm operates on.
type weighted struct {
	Vector []float32
	Weight float64
}

// CentroidResult is the outcome of computing a contributor's centroid.
type CentroidResult struct {
	Vector            []float32
	EmbeddingsUsed    int
	EmbeddingsTotal   int
	OutliersRejected  int
	AvgDetectionScore float64
}

// Compute implements the centroid algorithm exactly:
//  1. quality-weighted mean of all single embeddings, L2-normalized;
//  2. drop embeddings whose cosine similarity to that centroid falls
//     below OutlierSimilarityThreshold, unless doing so would leave
//     fewer than MinEmbeddings, in which case every embedding is kept;
//  3. recompute the weighted centroid from the kept set, L2-normalize.
func Compute(vectors []weighted) CentroidResult {
	total := len(vectors)
	initial := weightedMean(vectors)

	kept := make([]weighted, 0, len(vectors))
	rejected := 0
	for _, v := range vectors {
		if vectorutil.CosineSimilarity(v.Vector, initial) >= OutlierSimilarityThreshold {
			kept = append(kept, v)
		} else {
			rejected++
		}
	}
	if len(kept) < MinEmbeddings {
		kept = vectors
		rejected = 0
	}

	final := weightedMean(kept)

	var weightSum float64
	for _, v := range kept {
		weightSum += v.Weight
	}
	avgScore := 0.0
	if len(kept) > 0 {
		avgScore = weightSum / float64(len(kept))
	}

	return CentroidResult{
		Vector:            final,
		EmbeddingsUsed:    len(kept),
		EmbeddingsTotal:   total,
		OutliersRejected:  rejected,
		AvgDetectionScore: avgScore,
	}
}

func weightedMean(vectors []weighted) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dims := len(vectors[0].Vector)
	sum := make([]float64, dims)
	var weightTotal float64
	for _, v := range vectors {
		w := v.Weight
		if w <= 0 {
			w = 1e-6
		}
		weightTotal += w
		for i, x := range v.Vector {
			sum[i] += float64(x) * w
		}
	}
	mean := make([]float32, dims)
	for i := range sum {
		mean[i] = float32(sum[i] / weightTotal)
	}
	return vectorutil.Normalize(mean)
}

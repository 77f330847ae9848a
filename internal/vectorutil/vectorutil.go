// Package vectorutil holds the pure vector-math helpers shared by the
// ingest worker's centroid computation, the reverse-image scan worker, and their
// tests: L2 normalization, cosine similarity,
// and the pgvector literal format used by every store query that touches
// the `vector` column type.
package vectorutil

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dimensions is the fixed face-embedding width required by every
// embedding column and vector query in the system.
const Dimensions = 512

// Norm returns the Euclidean (L2) norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a copy of v scaled to unit L2 norm. A zero vector is
// returned unchanged rather than dividing by zero.
func Normalize(v []float32) []float32 {
	n := Norm(v)
	if n == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// CosineSimilarity computes the cosine similarity of two vectors of equal
// length. Both the reverse-image scan worker (against the contributor's
// primary embedding) and the centroid outlier pass rely on this.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Literal formats v as pgvector's bracketed comma-separated literal, e.g.
// "[0.1,0.2,0.3]" — used verbatim as a query parameter cast with `::vector`
//.
func Literal(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// Validate returns an error unless v is exactly Dimensions wide and
// L2-normalized to within tol of 1.0.
func Validate(v []float32, tol float64) error {
	if len(v) != Dimensions {
		return fmt.Errorf("vectorutil: expected %d dimensions, got %d", Dimensions, len(v))
	}
	if n := Norm(v); math.Abs(n-1.0) > tol {
		return fmt.Errorf("vectorutil: embedding not L2-normalized: norm=%f", n)
	}
	return nil
}

package store

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/lib/pq"

	"scanner/internal/vectorutil"
)

// vectorLiteral formats a face vector as a pgvector literal for use as a
// `$n::vector` query parameter.
func vectorLiteral(v []float32) string {
	return vectorutil.Literal(v)
}

// pqStringArray adapts a Go string slice to the `= ANY($1)` / array-typed
// column calling convention lib/pq expects.
func pqStringArray(ids []string) interface{} {
	return pq.Array(ids)
}

// phashBits formats a perceptual hash as the 64-character binary literal
// Postgres's bit(64) column type expects, or nil for a missing hash.
func phashBits(p *uint64) interface{} {
	if p == nil {
		return nil
	}
	return fmt.Sprintf("%064b", *p)
}

// parsePhashBits reverses phashBits for rows read back out of bit(64).
func parsePhashBits(s sql.NullString) (*uint64, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(s.String, 2, 64)
	if err != nil {
		return nil, fmt.Errorf("store: parse phash bits %q: %w", s.String, err)
	}
	return &v, nil
}

// Package vectorstore implements the combined contributor/registry
// similarity search against a pgvector-backed Postgres database, using
// the `<=>` cosine-distance operator over the shared connection pool.
package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scanner/internal/store"
	"scanner/internal/vectorutil"
)

// PgVectorIndex implements store.VectorIndex over a pgvector extension
// column, combining contributor embeddings and registry identities in one
// UNION ALL query
type PgVectorIndex struct {
	db *sql.DB
}

// New wraps an existing connection pool. The pool is expected to be the
// same one passed to store.Open, since both query the same database.
func New(db *sql.DB) *PgVectorIndex {
	return &PgVectorIndex{db: db}
}

// SearchRegistry runs the combined query: the query embedding is
// formatted as a bracketed literal once and reused in both UNION ALL
// branches, contributors filtered by opted_out/suspended/(optionally)
// is_primary, registry identities filtered by processed embedding status
// and claimed/verified status, ordered by similarity descending and
// capped at topK.
func (idx *PgVectorIndex) SearchRegistry(ctx context.Context, query []float32, threshold float64, topK int, primaryOnly bool) ([]store.MatchHit, error) {
	if err := vectorutil.Validate(query, 1e-3); err != nil {
		return nil, fmt.Errorf("vectorstore: query embedding: %w", err)
	}
	literal := vectorutil.Literal(query)
	if topK <= 0 {
		topK = 5
	}

	contributorPrimaryClause := ""
	if primaryOnly {
		contributorPrimaryClause = "AND ce.is_primary = true"
	}

	query_ := fmt.Sprintf(`
		SELECT identity_id, embedding_id, similarity, source FROM (
			SELECT
				ce.contributor_id AS identity_id,
				ce.id AS embedding_id,
				1 - (ce.embedding <=> $1::vector) AS similarity,
				'contributor' AS source
			FROM contributor_embeddings ce
			JOIN contributors c ON c.id = ce.contributor_id
			WHERE c.opted_out = false AND c.suspended = false %s

			UNION ALL

			SELECT
				ri.id AS identity_id,
				ri.id AS embedding_id,
				1 - (ri.embedding <=> $1::vector) AS similarity,
				'registry' AS source
			FROM registry_identities ri
			WHERE ri.embedding IS NOT NULL
			  AND ri.embedding_status = 'processed'
			  AND ri.status IN ('claimed', 'verified')
		) combined
		WHERE similarity > $2
		ORDER BY similarity DESC
		LIMIT $3`, contributorPrimaryClause)

	rows, err := idx.db.QueryContext(ctx, query_, literal, threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: combined similarity query: %w", err)
	}
	defer rows.Close()

	var hits []store.MatchHit
	for rows.Next() {
		var h store.MatchHit
		if err := rows.Scan(&h.IdentityID, &h.EmbeddingID, &h.Similarity, &h.Source); err != nil {
			return nil, fmt.Errorf("vectorstore: scan similarity row: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SearchDiscoveredFaces implements the backfill query: a one-shot
// search against discovered_face_embeddings within a lookback window,
// used the moment a contributor's very first embedding is inserted so
// images discovered before the contributor existed still surface a
// match.
func (idx *PgVectorIndex) SearchDiscoveredFaces(ctx context.Context, query []float32, threshold float64, lookback time.Duration, limit int) ([]store.DiscoveredFaceHit, error) {
	if err := vectorutil.Validate(query, 1e-3); err != nil {
		return nil, fmt.Errorf("vectorstore: backfill query embedding: %w", err)
	}
	literal := vectorutil.Literal(query)
	if limit <= 0 {
		limit = 50
	}
	cutoff := time.Now().Add(-lookback)

	rows, err := idx.db.QueryContext(ctx, `
		SELECT dfe.image_id, dfe.face_index, 1 - (dfe.embedding <=> $1::vector) AS similarity
		FROM discovered_face_embeddings dfe
		JOIN discovered_images di ON di.id = dfe.image_id
		WHERE di.discovered_at >= $2 AND 1 - (dfe.embedding <=> $1::vector) > $3
		ORDER BY similarity DESC
		LIMIT $4`, literal, cutoff, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: backfill query: %w", err)
	}
	defer rows.Close()

	var hits []store.DiscoveredFaceHit
	for rows.Next() {
		var h store.DiscoveredFaceHit
		if err := rows.Scan(&h.ImageID, &h.FaceIndex, &h.Similarity); err != nil {
			return nil, fmt.Errorf("vectorstore: scan backfill row: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

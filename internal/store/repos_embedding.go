package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"scanner/internal/model"
	"scanner/internal/vectorutil"
)

type pgEmbeddingRepo struct{ db *sql.DB }

func (r *pgEmbeddingRepo) Insert(ctx context.Context, e *model.ContributorEmbedding) error {
	var centroidJSON []byte
	if e.Centroid != nil {
		var err error
		centroidJSON, err = json.Marshal(e.Centroid)
		if err != nil {
			return fmt.Errorf("store: marshal centroid metadata: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contributor_embeddings
			(id, contributor_id, source_image_id, embedding, detection_score, is_primary, kind, centroid_metadata, created_at)
		VALUES ($1, $2, $3, $4::vector, $5, $6, $7, $8, NOW())`,
		e.ID, e.ContributorID, e.SourceImageID, vectorutil.Literal(e.Vector),
		e.DetectionScore, e.IsPrimary, e.Kind, nullableJSON(centroidJSON))
	if err != nil {
		return fmt.Errorf("store: insert contributor embedding: %w", err)
	}
	return nil
}

func (r *pgEmbeddingRepo) ListSingles(ctx context.Context, contributorID string) ([]model.ContributorEmbedding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, contributor_id, source_image_id, embedding, detection_score, is_primary, kind, created_at
		FROM contributor_embeddings
		WHERE contributor_id = $1 AND kind = $2`, contributorID, model.EmbeddingKindSingle)
	if err != nil {
		return nil, fmt.Errorf("store: list single embeddings for %s: %w", contributorID, err)
	}
	defer rows.Close()

	var out []model.ContributorEmbedding
	for rows.Next() {
		var e model.ContributorEmbedding
		var vecStr string
		if err := rows.Scan(&e.ID, &e.ContributorID, &e.SourceImageID, &vecStr,
			&e.DetectionScore, &e.IsPrimary, &e.Kind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan embedding: %w", err)
		}
		e.Vector, err = parseVector(vecStr)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *pgEmbeddingRepo) Primary(ctx context.Context, contributorID string) (*model.ContributorEmbedding, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, contributor_id, source_image_id, embedding, detection_score, is_primary, kind, created_at
		FROM contributor_embeddings
		WHERE contributor_id = $1 AND is_primary = true`, contributorID)
	var e model.ContributorEmbedding
	var vecStr string
	if err := row.Scan(&e.ID, &e.ContributorID, &e.SourceImageID, &vecStr,
		&e.DetectionScore, &e.IsPrimary, &e.Kind, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: primary embedding for %s: %w", contributorID, err)
	}
	var err error
	e.Vector, err = parseVector(vecStr)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *pgEmbeddingRepo) SetPrimary(ctx context.Context, contributorID string, embeddingID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contributor_embeddings SET is_primary = (id = $2)
		WHERE contributor_id = $1`, contributorID, embeddingID)
	if err != nil {
		return fmt.Errorf("store: set primary embedding for %s: %w", contributorID, err)
	}
	return nil
}

func (r *pgEmbeddingRepo) ClearPrimary(ctx context.Context, contributorID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contributor_embeddings SET is_primary = false WHERE contributor_id = $1`, contributorID)
	if err != nil {
		return fmt.Errorf("store: clear primary for %s: %w", contributorID, err)
	}
	return nil
}

func (r *pgEmbeddingRepo) DeleteCentroid(ctx context.Context, contributorID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM contributor_embeddings WHERE contributor_id = $1 AND kind = $2`,
		contributorID, model.EmbeddingKindCentroid)
	if err != nil {
		return fmt.Errorf("store: delete centroid for %s: %w", contributorID, err)
	}
	return nil
}

func (r *pgEmbeddingRepo) CountForContributor(ctx context.Context, contributorID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM contributor_embeddings WHERE contributor_id = $1 AND kind = $2`,
		contributorID, model.EmbeddingKindSingle).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count embeddings for %s: %w", contributorID, err)
	}
	return n, nil
}

type pgRegistryRepo struct{ db *sql.DB }

func (r *pgRegistryRepo) PendingSelfies(ctx context.Context, limit int) ([]model.RegistryIdentity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, selfie_bucket, selfie_path, embedding_status, status
		FROM registry_identities
		WHERE embedding_status = $1
		ORDER BY id
		LIMIT $2`, model.EmbeddingStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending registry selfies: %w", err)
	}
	defer rows.Close()

	var out []model.RegistryIdentity
	for rows.Next() {
		var ri model.RegistryIdentity
		if err := rows.Scan(&ri.ID, &ri.SelfieBucket, &ri.SelfiePath, &ri.EmbeddingStatus, &ri.Status); err != nil {
			return nil, fmt.Errorf("store: scan registry identity: %w", err)
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

func (r *pgRegistryRepo) SetEmbedding(ctx context.Context, identityID string, vector []float32) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE registry_identities
		SET embedding = $2::vector, embedding_status = $3
		WHERE id = $1`, identityID, vectorutil.Literal(vector), model.EmbeddingStatusProcessed)
	if err != nil {
		return fmt.Errorf("store: set registry embedding for %s: %w", identityID, err)
	}
	return nil
}

func (r *pgRegistryRepo) MarkFailed(ctx context.Context, identityID string, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE registry_identities SET embedding_status = $2 WHERE id = $1`,
		identityID, model.EmbeddingStatusFailed)
	_ = reason // reason is logged by the caller; no column for it on this lighter-weight entity
	if err != nil {
		return fmt.Errorf("store: mark registry identity %s failed: %w", identityID, err)
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func parseVector(s string) ([]float32, error) {
	var f []float64
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return nil, fmt.Errorf("store: parse vector literal: %w", err)
	}
	out := make([]float32, len(f))
	for i, x := range f {
		out[i] = float32(x)
	}
	return out, nil
}

package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"scanner/internal/model"
)

// urlHash computes the stable hash of a source URL used as the conflict
// target for discovered-image dedup.
func urlHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

type pgDiscoveredImageRepo struct{ db *sql.DB }

// InsertBatch upserts images in a single statement per the batch size
// of 500 (the caller is responsible for chunking a larger slice). New
// rows are detected via `xmax = 0`, the standard Postgres idiom for
// RETURNING only rows that were actually inserted under ON CONFLICT.
func (r *pgDiscoveredImageRepo) InsertBatch(ctx context.Context, images []model.DiscoveredImage) (int, error) {
	if len(images) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin discovered-image batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO discovered_images
			(id, source_url, source_url_hash, page_url, page_title, platform, phash, width, height, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (source_url_hash) DO NOTHING
		RETURNING (xmax = 0)`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare discovered-image insert: %w", err)
	}
	defer stmt.Close()

	newRows := 0
	for _, img := range images {
		var inserted bool
		row := stmt.QueryRowContext(ctx, img.ID, img.SourceURL, urlHash(img.SourceURL),
			img.PageURL, img.PageTitle, img.Platform, phashBits(img.Phash), img.Width, img.Height)
		switch err := row.Scan(&inserted); err {
		case nil:
			if inserted {
				newRows++
			}
		case sql.ErrNoRows:
			// conflict: row already existed, silently no-op
		default:
			return newRows, fmt.Errorf("store: insert discovered image %s: %w", img.SourceURL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return newRows, fmt.Errorf("store: commit discovered-image batch: %w", err)
	}
	return newRows, nil
}

func (r *pgDiscoveredImageRepo) PendingFaceProbe(ctx context.Context, limit int) ([]model.DiscoveredImage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_url, page_url, page_title, platform, phash, width, height, has_faces, face_count,
		       COALESCE(thumbnail_key, ''), discovered_at
		FROM discovered_images
		WHERE has_faces IS NULL
		ORDER BY discovered_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending face-probe images: %w", err)
	}
	defer rows.Close()

	var out []model.DiscoveredImage
	for rows.Next() {
		var img model.DiscoveredImage
		var phashStr sql.NullString
		if err := rows.Scan(&img.ID, &img.SourceURL, &img.PageURL, &img.PageTitle, &img.Platform,
			&phashStr, &img.Width, &img.Height, &img.HasFaces, &img.FaceCount, &img.ThumbnailKey, &img.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("store: scan discovered image: %w", err)
		}
		if img.Phash, err = parsePhashBits(phashStr); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func (r *pgDiscoveredImageRepo) SetFaceResult(ctx context.Context, imageID string, hasFaces bool, faceCount int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE discovered_images SET has_faces = $2, face_count = $3 WHERE id = $1`,
		imageID, hasFaces, faceCount)
	if err != nil {
		return fmt.Errorf("store: set face result for %s: %w", imageID, err)
	}
	return nil
}

func (r *pgDiscoveredImageRepo) SetThumbnail(ctx context.Context, imageID string, key string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE discovered_images SET thumbnail_key = $2 WHERE id = $1`, imageID, key)
	if err != nil {
		return fmt.Errorf("store: set thumbnail for %s: %w", imageID, err)
	}
	return nil
}

// DeleteOlderThan implements the first cleanup rule (face-negative
// images), LIMIT-batched. hasFaces selects the face-flag value to target; nil
// selects still-unprobed rows (unused by the current cleanup policy but
// kept for completeness of the tri-valued flag).
func (r *pgDiscoveredImageRepo) DeleteOlderThan(ctx context.Context, hasFaces *bool, olderThan time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	var res sql.Result
	var err error
	if hasFaces == nil {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM discovered_images WHERE id IN (
				SELECT id FROM discovered_images
				WHERE has_faces IS NULL AND discovered_at < $1 LIMIT $2)`, cutoff, limit)
	} else {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM discovered_images WHERE id IN (
				SELECT id FROM discovered_images
				WHERE has_faces = $1 AND discovered_at < $2 LIMIT $3)`, *hasFaces, cutoff, limit)
	}
	if err != nil {
		return 0, fmt.Errorf("store: delete old discovered images: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteFacePositiveWithoutChildren prunes exactly the orphan shape:
// face-flag true but no match and no embedding children.
func (r *pgDiscoveredImageRepo) DeleteFacePositiveWithoutChildren(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM discovered_images WHERE id IN (
			SELECT di.id FROM discovered_images di
			WHERE di.has_faces = true
			  AND di.discovered_at < $1
			  AND NOT EXISTS (SELECT 1 FROM discovered_face_embeddings dfe WHERE dfe.image_id = di.id)
			  AND NOT EXISTS (SELECT 1 FROM matches m WHERE m.image_id = di.id)
			LIMIT $2)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("store: delete face-positive orphans: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type pgFaceEmbeddingRepo struct{ db *sql.DB }

func (r *pgFaceEmbeddingRepo) Insert(ctx context.Context, e *model.DiscoveredFaceEmbedding) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO discovered_face_embeddings (id, image_id, face_index, embedding, detection_score)
		VALUES ($1, $2, $3, $4::vector, $5)
		ON CONFLICT (image_id, face_index) DO NOTHING`,
		e.ID, e.ImageID, e.FaceIndex, vectorLiteral(e.Vector), e.DetectionScore)
	if err != nil {
		return fmt.Errorf("store: insert face embedding for image %s face %d: %w", e.ImageID, e.FaceIndex, err)
	}
	return nil
}

func (r *pgFaceEmbeddingRepo) PendingMatch(ctx context.Context, limit int) ([]model.DiscoveredFaceEmbedding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, image_id, face_index, embedding, detection_score, matched_at
		FROM discovered_face_embeddings
		WHERE matched_at IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending match embeddings: %w", err)
	}
	defer rows.Close()

	var out []model.DiscoveredFaceEmbedding
	for rows.Next() {
		var e model.DiscoveredFaceEmbedding
		var vecStr string
		if err := rows.Scan(&e.ID, &e.ImageID, &e.FaceIndex, &vecStr, &e.DetectionScore, &e.MatchedAt); err != nil {
			return nil, fmt.Errorf("store: scan face embedding: %w", err)
		}
		e.Vector, err = parseVector(vecStr)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkMatched implements the post-batch step, executed unconditionally
// after per-embedding match inserts in the same tick: this is what
// bounds matching work to newly discovered embeddings and prevents
// unbounded re-matching.
func (r *pgFaceEmbeddingRepo) MarkMatched(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE discovered_face_embeddings SET matched_at = $2 WHERE id = ANY($1)`,
		pqStringArray(ids), at)
	if err != nil {
		return fmt.Errorf("store: mark face embeddings matched: %w", err)
	}
	return nil
}

func (r *pgFaceEmbeddingRepo) DeleteOlderThan(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM discovered_face_embeddings WHERE id IN (
			SELECT dfe.id FROM discovered_face_embeddings dfe
			JOIN discovered_images di ON di.id = dfe.image_id
			WHERE di.discovered_at < $1
			LIMIT $2)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("store: delete old face embeddings: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

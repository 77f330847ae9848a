package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scanner/internal/model"
)

type pgMatchRepo struct{ db *sql.DB }

// Insert creates a match row: on conflict (image, contributor) do
// nothing, so duplicate matches are never stored. The
// `xmax = 0` idiom reports whether this call actually created the row.
func (r *pgMatchRepo) Insert(ctx context.Context, m *model.Match) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO matches
			(id, image_id, contributor_id, contributor_embedding_id, face_index,
			 similarity_score, confidence_tier, source_account, review_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (image_id, contributor_id) DO NOTHING
		RETURNING (xmax = 0)`,
		m.ID, m.ImageID, m.ContributorID, m.ContributorEmbedding, m.FaceIndex,
		m.SimilarityScore, m.ConfidenceTier, m.SourceAccount, model.ReviewPending)

	var inserted bool
	switch err := row.Scan(&inserted); err {
	case nil:
		return inserted, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("store: insert match for image %s contributor %s: %w", m.ImageID, m.ContributorID, err)
	}
}

func (r *pgMatchRepo) SetKnownAccount(ctx context.Context, matchID string, knownAccountID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE matches SET is_known_account = true, known_account_id = $2 WHERE id = $1`,
		matchID, knownAccountID)
	if err != nil {
		return fmt.Errorf("store: set known account on match %s: %w", matchID, err)
	}
	return nil
}

func (r *pgMatchRepo) SetAIClassification(ctx context.Context, matchID string, isAI bool, score float64, generator string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE matches SET ai_generated = $2, ai_generated_score = $3, ai_generator = NULLIF($4, '')
		WHERE id = $1`, matchID, isAI, score, generator)
	if err != nil {
		return fmt.Errorf("store: set AI classification on match %s: %w", matchID, err)
	}
	return nil
}

func (r *pgMatchRepo) PageURL(ctx context.Context, matchID string) (string, error) {
	var url string
	err := r.db.QueryRowContext(ctx, `
		SELECT di.page_url FROM matches m JOIN discovered_images di ON di.id = m.image_id
		WHERE m.id = $1`, matchID).Scan(&url)
	if err != nil {
		return "", fmt.Errorf("store: page URL for match %s: %w", matchID, err)
	}
	return url, nil
}

func (r *pgMatchRepo) ThumbnailKey(ctx context.Context, matchID string) (string, error) {
	var key sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT di.thumbnail_key FROM matches m JOIN discovered_images di ON di.id = m.image_id
		WHERE m.id = $1`, matchID).Scan(&key)
	if err != nil {
		return "", fmt.Errorf("store: thumbnail key for match %s: %w", matchID, err)
	}
	return key.String, nil
}

type pgRegistryMatchRepo struct{ db *sql.DB }

// Insert implements the registry path: deduped on
// (identity, image, face_index).
func (r *pgRegistryMatchRepo) Insert(ctx context.Context, m *model.RegistryMatch) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO registry_matches (id, identity_id, image_id, face_index, similarity_score, confidence_tier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (identity_id, image_id, face_index) DO NOTHING
		RETURNING (xmax = 0)`,
		m.ID, m.IdentityID, m.ImageID, m.FaceIndex, m.SimilarityScore, m.ConfidenceTier)

	var inserted bool
	switch err := row.Scan(&inserted); err {
	case nil:
		return inserted, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("store: insert registry match for identity %s image %s: %w", m.IdentityID, m.ImageID, err)
	}
}

type pgEvidenceRepo struct{ db *sql.DB }

func (r *pgEvidenceRepo) Insert(ctx context.Context, e *model.Evidence) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO evidence (id, match_id, type, url, sha256, byte_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		e.ID, e.MatchID, e.Type, e.URL, e.SHA256, e.ByteSize)
	if err != nil {
		return fmt.Errorf("store: insert evidence for match %s: %w", e.MatchID, err)
	}
	return nil
}

type pgNotificationRepo struct{ db *sql.DB }

func (r *pgNotificationRepo) Insert(ctx context.Context, n *model.Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, contributor_id, title, body, payload, read, sent, created_at)
		VALUES ($1, $2, $3, $4, $5, false, false, NOW())`,
		n.ID, n.ContributorID, n.Title, n.Body, n.Payload)
	if err != nil {
		return fmt.Errorf("store: insert notification for %s: %w", n.ContributorID, err)
	}
	return nil
}

func (r *pgNotificationRepo) DeleteReadOlderThan(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE id IN (
			SELECT id FROM notifications WHERE read = true AND created_at < $1 LIMIT $2)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("store: delete old read notifications: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type pgMLStateRepo struct{ db *sql.DB }

// Thresholds reads the mutable threshold store fresh every call: no
// caching, so an approved recommendation takes effect on the very next
// tick.
func (r *pgMLStateRepo) Thresholds(ctx context.Context) (low, medium, high float64, err error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT threshold_low, threshold_medium, threshold_high FROM ml_thresholds WHERE id = 1`)
	if scanErr := row.Scan(&low, &medium, &high); scanErr != nil {
		return 0, 0, 0, fmt.Errorf("store: read ml thresholds: %w", scanErr)
	}
	return low, medium, high, nil
}

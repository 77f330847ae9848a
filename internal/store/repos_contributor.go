package store

import (
	"context"
	"database/sql"
	"fmt"

	"scanner/internal/model"
)

type pgContributorRepo struct{ db *sql.DB }

func (r *pgContributorRepo) Get(ctx context.Context, id string) (*model.Contributor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tier, opted_out, suspended, onboarding_complete
		FROM contributors WHERE id = $1`, id)
	c := &model.Contributor{}
	if err := row.Scan(&c.ID, &c.Tier, &c.OptedOut, &c.Suspended, &c.OnboardingComplete); err != nil {
		return nil, fmt.Errorf("store: get contributor %s: %w", id, err)
	}
	return c, nil
}

func (r *pgContributorRepo) KnownAccounts(ctx context.Context, contributorID string) ([]model.KnownAccount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, contributor_id, platform, handle, domain
		FROM known_accounts WHERE contributor_id = $1`, contributorID)
	if err != nil {
		return nil, fmt.Errorf("store: list known accounts for %s: %w", contributorID, err)
	}
	defer rows.Close()

	var out []model.KnownAccount
	for rows.Next() {
		var k model.KnownAccount
		if err := rows.Scan(&k.ID, &k.ContributorID, &k.Platform, &k.Handle, &k.Domain); err != nil {
			return nil, fmt.Errorf("store: scan known account: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *pgContributorRepo) PendingReferenceImages(ctx context.Context, limit int) ([]model.ContributorReferenceImage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, contributor_id, bucket, path, embedding_status, capture_step, COALESCE(error_reason, ''), created_at
		FROM contributor_reference_images
		WHERE embedding_status = $1
		ORDER BY created_at ASC
		LIMIT $2`, model.EmbeddingStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending reference images: %w", err)
	}
	defer rows.Close()

	var out []model.ContributorReferenceImage
	for rows.Next() {
		var img model.ContributorReferenceImage
		if err := rows.Scan(&img.ID, &img.ContributorID, &img.Bucket, &img.Path,
			&img.EmbeddingStatus, &img.CaptureStep, &img.ErrorReason, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan reference image: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func (r *pgContributorRepo) ProcessedReferenceImages(ctx context.Context, contributorID string, limit int) ([]model.ContributorReferenceImage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, contributor_id, bucket, path, embedding_status, capture_step, COALESCE(error_reason, ''), created_at
		FROM contributor_reference_images
		WHERE contributor_id = $1 AND embedding_status = $2
		ORDER BY created_at DESC
		LIMIT $3`, contributorID, model.EmbeddingStatusProcessed, limit)
	if err != nil {
		return nil, fmt.Errorf("store: processed reference images for %s: %w", contributorID, err)
	}
	defer rows.Close()

	var out []model.ContributorReferenceImage
	for rows.Next() {
		var img model.ContributorReferenceImage
		if err := rows.Scan(&img.ID, &img.ContributorID, &img.Bucket, &img.Path,
			&img.EmbeddingStatus, &img.CaptureStep, &img.ErrorReason, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan processed reference image: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func (r *pgContributorRepo) MarkReferenceImage(ctx context.Context, id string, status model.EmbeddingStatus, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contributor_reference_images
		SET embedding_status = $1, error_reason = NULLIF($2, '')
		WHERE id = $3`, status, reason, id)
	if err != nil {
		return fmt.Errorf("store: mark reference image %s %s: %w", id, status, err)
	}
	return nil
}

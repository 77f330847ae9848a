package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order, tracked in a schema_migrations table so
// re-running `scanner migrate` is idempotent.
var migrations = []struct {
	name string
	sql  string
}{
	{"0001_extensions", `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE EXTENSION IF NOT EXISTS pgcrypto;
	`},
	{"0002_contributors", `
		CREATE TABLE IF NOT EXISTS contributors (
			id                   uuid PRIMARY KEY,
			tier                 text NOT NULL DEFAULT 'free',
			opted_out            boolean NOT NULL DEFAULT false,
			suspended            boolean NOT NULL DEFAULT false,
			onboarding_complete  boolean NOT NULL DEFAULT false
		);
		CREATE TABLE IF NOT EXISTS contributor_reference_images (
			id                uuid PRIMARY KEY,
			contributor_id    uuid NOT NULL REFERENCES contributors(id),
			bucket            text NOT NULL,
			path              text NOT NULL,
			embedding_status  text NOT NULL DEFAULT 'pending',
			capture_step      text NOT NULL DEFAULT '',
			error_reason      text,
			created_at        timestamptz NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_reference_images_status
			ON contributor_reference_images(embedding_status);
	`},
	{"0003_embeddings", `
		CREATE TABLE IF NOT EXISTS contributor_embeddings (
			id                 uuid PRIMARY KEY,
			contributor_id     uuid NOT NULL REFERENCES contributors(id),
			source_image_id    uuid REFERENCES contributor_reference_images(id),
			embedding          vector(512) NOT NULL,
			detection_score    double precision NOT NULL,
			is_primary         boolean NOT NULL DEFAULT false,
			kind               text NOT NULL DEFAULT 'single',
			centroid_metadata  jsonb,
			created_at         timestamptz NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_contributor_embeddings_contributor
			ON contributor_embeddings(contributor_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_contributor_embeddings_one_primary
			ON contributor_embeddings(contributor_id) WHERE is_primary;
	`},
	{"0004_registry", `
		CREATE TABLE IF NOT EXISTS registry_identities (
			id                uuid PRIMARY KEY,
			selfie_bucket     text NOT NULL,
			selfie_path       text NOT NULL,
			embedding_status  text NOT NULL DEFAULT 'pending',
			embedding         vector(512),
			status            text NOT NULL DEFAULT 'unclaimed'
		);
	`},
	{"0005_schedules_and_jobs", `
		CREATE TABLE IF NOT EXISTS platform_crawl_schedules (
			platform                  text PRIMARY KEY,
			next_crawl_at             timestamptz NOT NULL DEFAULT now(),
			interval_hours            int NOT NULL DEFAULT 6,
			enabled                   boolean NOT NULL DEFAULT true,
			cursor                    jsonb NOT NULL DEFAULT '{}'::jsonb,
			tags_total                int NOT NULL DEFAULT 0,
			tags_exhausted            int NOT NULL DEFAULT 0,
			total_images_discovered   int NOT NULL DEFAULT 0,
			phase                     text NOT NULL DEFAULT 'idle',
			last_crawl_at             timestamptz
		);
		CREATE TABLE IF NOT EXISTS scan_schedules (
			contributor_id   uuid PRIMARY KEY REFERENCES contributors(id),
			next_scan_at     timestamptz NOT NULL DEFAULT now(),
			interval_hours   int NOT NULL,
			priority         int NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS scan_jobs (
			id              uuid PRIMARY KEY,
			type            text NOT NULL,
			source_name     text NOT NULL,
			status          text NOT NULL DEFAULT 'pending',
			stage           text,
			images_found    int NOT NULL DEFAULT 0,
			faces_detected  int NOT NULL DEFAULT 0,
			matches_found   int NOT NULL DEFAULT 0,
			error_message   text,
			started_at      timestamptz,
			completed_at    timestamptz
		);
		CREATE INDEX IF NOT EXISTS idx_scan_jobs_status ON scan_jobs(status);
	`},
	{"0006_discovered_images", `
		CREATE TABLE IF NOT EXISTS discovered_images (
			id              uuid PRIMARY KEY,
			source_url      text NOT NULL,
			source_url_hash text NOT NULL,
			page_url        text NOT NULL DEFAULT '',
			page_title      text NOT NULL DEFAULT '',
			platform        text NOT NULL,
			phash           bit(64),
			width           int NOT NULL DEFAULT 0,
			height          int NOT NULL DEFAULT 0,
			has_faces       boolean,
			face_count      int NOT NULL DEFAULT 0,
			thumbnail_key   text,
			discovered_at   timestamptz NOT NULL DEFAULT now()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_discovered_images_url_hash
			ON discovered_images(source_url_hash);
		CREATE INDEX IF NOT EXISTS idx_discovered_images_pending_probe
			ON discovered_images(discovered_at DESC) WHERE has_faces IS NULL;

		CREATE TABLE IF NOT EXISTS discovered_face_embeddings (
			id               uuid PRIMARY KEY,
			image_id         uuid NOT NULL REFERENCES discovered_images(id),
			face_index       int NOT NULL,
			embedding        vector(512) NOT NULL,
			detection_score  double precision NOT NULL,
			matched_at       timestamptz
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_face_embeddings_image_face
			ON discovered_face_embeddings(image_id, face_index);
		CREATE INDEX IF NOT EXISTS idx_face_embeddings_pending_match
			ON discovered_face_embeddings(id) WHERE matched_at IS NULL;
	`},
	{"0007_matches", `
		CREATE TABLE IF NOT EXISTS matches (
			id                        uuid PRIMARY KEY,
			image_id                  uuid NOT NULL REFERENCES discovered_images(id),
			contributor_id            uuid NOT NULL REFERENCES contributors(id),
			contributor_embedding_id  uuid REFERENCES contributor_embeddings(id),
			face_index                int NOT NULL,
			similarity_score          double precision NOT NULL,
			confidence_tier           text NOT NULL,
			source_account            text NOT NULL DEFAULT '',
			is_known_account          boolean NOT NULL DEFAULT false,
			known_account_id          uuid,
			ai_generated              boolean NOT NULL DEFAULT false,
			ai_generated_score        double precision NOT NULL DEFAULT 0,
			ai_generator              text,
			review_status             text NOT NULL DEFAULT 'pending',
			created_at                timestamptz NOT NULL DEFAULT now()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_image_contributor
			ON matches(image_id, contributor_id);

		CREATE TABLE IF NOT EXISTS registry_matches (
			id                uuid PRIMARY KEY,
			identity_id       uuid NOT NULL REFERENCES registry_identities(id),
			image_id          uuid NOT NULL REFERENCES discovered_images(id),
			face_index        int NOT NULL,
			similarity_score  double precision NOT NULL,
			confidence_tier   text NOT NULL,
			created_at        timestamptz NOT NULL DEFAULT now()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_registry_matches_identity_image_face
			ON registry_matches(identity_id, image_id, face_index);

		CREATE TABLE IF NOT EXISTS evidence (
			id          uuid PRIMARY KEY,
			match_id    uuid NOT NULL REFERENCES matches(id),
			type        text NOT NULL,
			url         text NOT NULL,
			sha256      text NOT NULL,
			byte_size   bigint NOT NULL,
			created_at  timestamptz NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS known_accounts (
			id              uuid PRIMARY KEY,
			contributor_id  uuid NOT NULL REFERENCES contributors(id),
			platform        text NOT NULL DEFAULT '',
			handle          text NOT NULL DEFAULT '',
			domain          text NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_known_accounts_contributor
			ON known_accounts(contributor_id);

		CREATE TABLE IF NOT EXISTS notifications (
			id              uuid PRIMARY KEY,
			contributor_id  uuid NOT NULL REFERENCES contributors(id),
			title           text NOT NULL,
			body            text NOT NULL,
			payload         jsonb,
			read            boolean NOT NULL DEFAULT false,
			sent            boolean NOT NULL DEFAULT false,
			created_at      timestamptz NOT NULL DEFAULT now()
		);
	`},
	{"0008_ml_thresholds", `
		CREATE TABLE IF NOT EXISTS ml_thresholds (
			id               int PRIMARY KEY DEFAULT 1,
			threshold_low    double precision NOT NULL DEFAULT 0.50,
			threshold_medium double precision NOT NULL DEFAULT 0.65,
			threshold_high   double precision NOT NULL DEFAULT 0.85
		);
		INSERT INTO ml_thresholds (id) VALUES (1) ON CONFLICT (id) DO NOTHING;
	`},
}

// Migrate applies every not-yet-applied migration in order, inside its own
// transaction, recording success in schema_migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name         text PRIMARY KEY,
			applied_at   timestamptz NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name = $1)`, m.name).Scan(&applied); err != nil {
			return fmt.Errorf("store: check migration %s: %w", m.name, err)
		}
		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: begin migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: apply migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %s: %w", m.name, err)
		}
	}
	return nil
}

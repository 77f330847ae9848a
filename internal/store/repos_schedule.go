package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scanner/internal/model"
)

type pgPlatformScheduleRepo struct{ db *sql.DB }

func (r *pgPlatformScheduleRepo) Due(ctx context.Context, now time.Time) ([]model.PlatformCrawlSchedule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT platform, next_crawl_at, interval_hours, enabled, cursor,
		       tags_total, tags_exhausted, total_images_discovered, phase, last_crawl_at
		FROM platform_crawl_schedules
		WHERE enabled = true AND next_crawl_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("store: due platform crawls: %w", err)
	}
	defer rows.Close()
	return scanPlatformSchedules(rows)
}

func (r *pgPlatformScheduleRepo) Get(ctx context.Context, platform string) (*model.PlatformCrawlSchedule, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT platform, next_crawl_at, interval_hours, enabled, cursor,
		       tags_total, tags_exhausted, total_images_discovered, phase, last_crawl_at
		FROM platform_crawl_schedules WHERE platform = $1`, platform)
	var s model.PlatformCrawlSchedule
	if err := row.Scan(&s.Platform, &s.NextCrawlAt, &s.IntervalHours, &s.Enabled, &s.Cursor,
		&s.TagsTotal, &s.TagsExhausted, &s.TotalImagesDiscovered, &s.Phase, &s.LastCrawlAt); err != nil {
		return nil, fmt.Errorf("store: get platform schedule %s: %w", platform, err)
	}
	return &s, nil
}

func (r *pgPlatformScheduleRepo) SaveCursor(ctx context.Context, platform string, cursor []byte) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE platform_crawl_schedules SET cursor = $2 WHERE platform = $1`, platform, cursor)
	if err != nil {
		return fmt.Errorf("store: save cursor for %s: %w", platform, err)
	}
	return nil
}

func (r *pgPlatformScheduleRepo) RecordCrawlResult(ctx context.Context, platform string, newRows, tagsTotal, tagsExhausted int, now time.Time, nextCrawlAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE platform_crawl_schedules
		SET total_images_discovered = total_images_discovered + $2,
		    tags_total = $3,
		    tags_exhausted = $4,
		    last_crawl_at = $5,
		    next_crawl_at = $6,
		    phase = 'idle'
		WHERE platform = $1`, platform, newRows, tagsTotal, tagsExhausted, now, nextCrawlAt)
	if err != nil {
		return fmt.Errorf("store: record crawl result for %s: %w", platform, err)
	}
	return nil
}

func (r *pgPlatformScheduleRepo) SetPhase(ctx context.Context, platform string, phase model.CrawlPhase) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE platform_crawl_schedules SET phase = $2 WHERE platform = $1`, platform, phase)
	if err != nil {
		return fmt.Errorf("store: set phase for %s: %w", platform, err)
	}
	return nil
}

func scanPlatformSchedules(rows *sql.Rows) ([]model.PlatformCrawlSchedule, error) {
	var out []model.PlatformCrawlSchedule
	for rows.Next() {
		var s model.PlatformCrawlSchedule
		if err := rows.Scan(&s.Platform, &s.NextCrawlAt, &s.IntervalHours, &s.Enabled, &s.Cursor,
			&s.TagsTotal, &s.TagsExhausted, &s.TotalImagesDiscovered, &s.Phase, &s.LastCrawlAt); err != nil {
			return nil, fmt.Errorf("store: scan platform schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type pgScanScheduleRepo struct{ db *sql.DB }

func (r *pgScanScheduleRepo) Due(ctx context.Context, now time.Time, limit int) ([]model.ScanSchedule, error) {
	// Priority descending, then next-scan-at ascending,
	rows, err := r.db.QueryContext(ctx, `
		SELECT contributor_id, next_scan_at, interval_hours, priority
		FROM scan_schedules
		WHERE next_scan_at <= $1
		ORDER BY priority DESC, next_scan_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("store: due scan schedules: %w", err)
	}
	defer rows.Close()

	var out []model.ScanSchedule
	for rows.Next() {
		var s model.ScanSchedule
		if err := rows.Scan(&s.ContributorID, &s.NextScanAt, &s.IntervalHours, &s.Priority); err != nil {
			return nil, fmt.Errorf("store: scan schedule row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *pgScanScheduleRepo) Advance(ctx context.Context, contributorID string, nextScanAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scan_schedules SET next_scan_at = $2 WHERE contributor_id = $1`, contributorID, nextScanAt)
	if err != nil {
		return fmt.Errorf("store: advance scan schedule for %s: %w", contributorID, err)
	}
	return nil
}

func (r *pgScanScheduleRepo) Upsert(ctx context.Context, s model.ScanSchedule) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scan_schedules (contributor_id, next_scan_at, interval_hours, priority)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (contributor_id) DO UPDATE
		SET next_scan_at = EXCLUDED.next_scan_at,
		    interval_hours = EXCLUDED.interval_hours,
		    priority = EXCLUDED.priority`,
		s.ContributorID, s.NextScanAt, s.IntervalHours, s.Priority)
	if err != nil {
		return fmt.Errorf("store: upsert scan schedule for %s: %w", s.ContributorID, err)
	}
	return nil
}

// Package devstore is a single-file mattn/go-sqlite3 cache for running the
// scanner's crawl/scan subcommands standalone, without a Postgres
// deployment: a small local cache layer for one-off CLI invocations.
//
// It serves two narrow purposes: a local job-status log for single-shot
// `scanner crawl`/`scan` runs, and a short-window perceptual-hash dedup
// index for environments where the Postgres bit-string/bit_count support
// the production schema assumes isn't available.
package devstore

import (
	"database/sql"
	"fmt"
	"math/bits"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DevStore wraps a local SQLite file holding job-run history and a
// recent-phash window.
type DevStore struct {
	db *sql.DB
}

// Open creates (if needed) and opens the SQLite file at path.
func Open(path string) (*DevStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("devstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS job_runs (
			id            TEXT PRIMARY KEY,
			type          TEXT NOT NULL,
			source_name   TEXT NOT NULL,
			status        TEXT NOT NULL,
			images_found  INTEGER NOT NULL DEFAULT 0,
			matches_found INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			started_at    DATETIME NOT NULL,
			completed_at  DATETIME
		);
		CREATE TABLE IF NOT EXISTS phash_window (
			hash       INTEGER NOT NULL,
			seen_at    DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_phash_window_seen_at ON phash_window(seen_at);
	`); err != nil {
		return nil, fmt.Errorf("devstore: create schema: %w", err)
	}
	return &DevStore{db: db}, nil
}

func (d *DevStore) Close() error { return d.db.Close() }

// RecordJobStart logs the start of a single-shot crawl/scan invocation.
func (d *DevStore) RecordJobStart(id, jobType, sourceName string) error {
	_, err := d.db.Exec(`
		INSERT INTO job_runs (id, type, source_name, status, started_at)
		VALUES (?, ?, ?, 'running', ?)`, id, jobType, sourceName, time.Now())
	if err != nil {
		return fmt.Errorf("devstore: record job start %s: %w", id, err)
	}
	return nil
}

// RecordJobFinish updates a previously started job with its outcome.
func (d *DevStore) RecordJobFinish(id string, imagesFound, matchesFound int, errMsg string) error {
	status := "completed"
	if errMsg != "" {
		status = "failed"
	}
	_, err := d.db.Exec(`
		UPDATE job_runs
		SET status = ?, images_found = ?, matches_found = ?, error_message = NULLIF(?, ''), completed_at = ?
		WHERE id = ?`, status, imagesFound, matchesFound, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("devstore: record job finish %s: %w", id, err)
	}
	return nil
}

// SeenRecently reports whether a perceptual hash within hammingThreshold
// bits of hash was recorded within the last window, and records hash for
// future checks regardless of the outcome. It's a dev-mode stand-in for
// the Postgres `bit_count(a # b)` Hamming-distance query, computed
// in Go rather than in SQL since SQLite has no native bit-string type.
func (d *DevStore) SeenRecently(hash uint64, window time.Duration, hammingThreshold int) (bool, error) {
	cutoff := time.Now().Add(-window)
	rows, err := d.db.Query(`SELECT hash FROM phash_window WHERE seen_at >= ?`, cutoff)
	if err != nil {
		return false, fmt.Errorf("devstore: query phash window: %w", err)
	}
	duplicate := false
	for rows.Next() {
		var existing int64
		if err := rows.Scan(&existing); err != nil {
			rows.Close()
			return false, fmt.Errorf("devstore: scan phash row: %w", err)
		}
		if bits.OnesCount64(hash^uint64(existing)) <= hammingThreshold {
			duplicate = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return false, fmt.Errorf("devstore: iterate phash window: %w", err)
	}
	rows.Close()

	if _, err := d.db.Exec(`INSERT INTO phash_window (hash, seen_at) VALUES (?, ?)`, int64(hash), time.Now()); err != nil {
		return duplicate, fmt.Errorf("devstore: insert phash: %w", err)
	}
	return duplicate, nil
}

// Prune deletes phash rows older than window, keeping the table bounded.
func (d *DevStore) Prune(window time.Duration) error {
	_, err := d.db.Exec(`DELETE FROM phash_window WHERE seen_at < ?`, time.Now().Add(-window))
	if err != nil {
		return fmt.Errorf("devstore: prune phash window: %w", err)
	}
	return nil
}

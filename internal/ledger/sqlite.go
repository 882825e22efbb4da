// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/chatdm/internal/models"

	_ "modernc.org/sqlite"
)

// SQLite stores the ledger in a local SQLite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the ledger file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY between the run and the HTTP reader.
	db.SetMaxOpenConns(1)

	l := &SQLite{db: db}
	if err := l.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	slog.Info("ledger initialised", "backend", "sqlite", "path", path)
	return l, nil
}

func (l *SQLite) ensureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id         TEXT PRIMARY KEY,
			started_at     TEXT NOT NULL,
			finished_at    TEXT,
			total          INTEGER DEFAULT 0,
			sent           INTEGER DEFAULT 0,
			skipped        INTEGER DEFAULT 0,
			no_email       INTEGER DEFAULT 0,
			user_not_found INTEGER DEFAULT 0,
			failed         INTEGER DEFAULT 0,
			error          TEXT DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS outcomes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL REFERENCES runs(run_id),
			row_index   INTEGER NOT NULL,
			email       TEXT DEFAULT '',
			status      TEXT DEFAULT '',
			skipped     INTEGER DEFAULT 0,
			stage       TEXT DEFAULT '',
			error       TEXT DEFAULT '',
			chat_id     TEXT DEFAULT '',
			message_id  TEXT DEFAULT '',
			sent_at     TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
	`)
	return err
}

// BeginRun inserts the run row.
func (l *SQLite) BeginRun(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (run_id, started_at) VALUES (?, ?)`,
		runID, formatTime(startedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordOutcome appends one row outcome.
func (l *SQLite) RecordOutcome(ctx context.Context, runID string, o models.Outcome) error {
	var sentAt any
	if t := outcomeTime(o.SentAt); t != nil {
		sentAt = formatTime(*t)
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO outcomes
			(run_id, row_index, email, status, skipped, stage, error, chat_id, message_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, o.Row, o.Email, string(o.Status), o.Skipped, string(o.Stage), o.Error,
		o.ChatID, o.MessageID, sentAt)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// FinishRun stores the final counts.
func (l *SQLite) FinishRun(ctx context.Context, s models.RunSummary) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, total = ?, sent = ?, skipped = ?,
		    no_email = ?, user_not_found = ?, failed = ?, error = ?
		WHERE run_id = ?
	`, formatTime(s.FinishedAt), s.Total, s.Sent, s.Skipped,
		s.NoEmail, s.UserNotFound, s.Failed, s.Error, s.RunID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (l *SQLite) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, started_at, COALESCE(finished_at, ''), total, sent, skipped,
		       no_email, user_not_found, failed, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.RunID, &started, &finished, &r.Total, &r.Sent, &r.Skipped,
			&r.NoEmail, &r.UserNotFound, &r.Failed, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Outcomes returns the outcomes recorded for a run in row order.
func (l *SQLite) Outcomes(ctx context.Context, runID string) ([]models.Outcome, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT row_index, email, status, skipped, stage, error, chat_id, message_id,
		       COALESCE(sent_at, '')
		FROM outcomes
		WHERE run_id = ?
		ORDER BY row_index
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Outcome
	for rows.Next() {
		var o models.Outcome
		var status, stage, sentAt string
		if err := rows.Scan(&o.Row, &o.Email, &status, &o.Skipped, &stage, &o.Error,
			&o.ChatID, &o.MessageID, &sentAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = models.Status(status)
		o.Stage = models.Stage(stage)
		o.SentAt = parseTime(sentAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Close closes the database.
func (l *SQLite) Close() error {
	return l.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

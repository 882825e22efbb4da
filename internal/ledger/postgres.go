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
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/chatdm/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores the ledger in Postgres.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a ledger backed by the given pool and ensures the
// tables exist.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	l := &Postgres{pool: pool}
	if err := l.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	slog.Info("ledger initialised", "backend", "postgres")
	return l, nil
}

func (l *Postgres) ensureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id         TEXT PRIMARY KEY,
			started_at     TIMESTAMPTZ NOT NULL,
			finished_at    TIMESTAMPTZ,
			total          INTEGER DEFAULT 0,
			sent           INTEGER DEFAULT 0,
			skipped        INTEGER DEFAULT 0,
			no_email       INTEGER DEFAULT 0,
			user_not_found INTEGER DEFAULT 0,
			failed         INTEGER DEFAULT 0,
			error          TEXT DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS outcomes (
			id          BIGSERIAL PRIMARY KEY,
			run_id      TEXT NOT NULL REFERENCES runs(run_id),
			row_index   INTEGER NOT NULL,
			email       TEXT DEFAULT '',
			status      TEXT DEFAULT '',
			skipped     BOOLEAN DEFAULT FALSE,
			stage       TEXT DEFAULT '',
			error       TEXT DEFAULT '',
			chat_id     TEXT DEFAULT '',
			message_id  TEXT DEFAULT '',
			sent_at     TIMESTAMPTZ,
			recorded_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
		CREATE INDEX IF NOT EXISTS idx_outcomes_email ON outcomes(email);
	`)
	return err
}

// BeginRun inserts the run row.
func (l *Postgres) BeginRun(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO runs (run_id, started_at) VALUES ($1, $2)
		ON CONFLICT (run_id) DO NOTHING
	`, runID, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordOutcome appends one row outcome.
func (l *Postgres) RecordOutcome(ctx context.Context, runID string, o models.Outcome) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO outcomes
			(run_id, row_index, email, status, skipped, stage, error, chat_id, message_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, runID, o.Row, o.Email, string(o.Status), o.Skipped, string(o.Stage), o.Error,
		o.ChatID, o.MessageID, outcomeTime(o.SentAt))
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// FinishRun stores the final counts.
func (l *Postgres) FinishRun(ctx context.Context, s models.RunSummary) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE runs
		SET finished_at = $2, total = $3, sent = $4, skipped = $5,
		    no_email = $6, user_not_found = $7, failed = $8, error = $9
		WHERE run_id = $1
	`, s.RunID, s.FinishedAt.UTC(), s.Total, s.Sent, s.Skipped,
		s.NoEmail, s.UserNotFound, s.Failed, s.Error)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (l *Postgres) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT run_id, started_at, finished_at, total, sent, skipped,
		       no_email, user_not_found, failed, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Outcomes returns the outcomes recorded for a run in row order.
func (l *Postgres) Outcomes(ctx context.Context, runID string) ([]models.Outcome, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT row_index, email, status, skipped, stage, error, chat_id, message_id, sent_at
		FROM outcomes
		WHERE run_id = $1
		ORDER BY row_index
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Outcome
	for rows.Next() {
		var o models.Outcome
		var status, stage string
		var sentAt *time.Time
		if err := rows.Scan(&o.Row, &o.Email, &status, &o.Skipped, &stage, &o.Error,
			&o.ChatID, &o.MessageID, &sentAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = models.Status(status)
		o.Stage = models.Stage(stage)
		if sentAt != nil {
			o.SentAt = sentAt.UTC()
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanPgRun(row pgx.Row) (Run, error) {
	var r Run
	var finished *time.Time
	err := row.Scan(&r.RunID, &r.StartedAt, &finished, &r.Total, &r.Sent, &r.Skipped,
		&r.NoEmail, &r.UserNotFound, &r.Failed, &r.Error)
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if finished != nil {
		r.FinishedAt = *finished
	}
	return r, nil
}

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

// Package dispatch runs a batch: it passes the credential gate once,
// resolves the sending service account, then drives every workbook row
// through lookup, chat creation and message send, recording each outcome on
// the row. The workbook is flushed once after the loop.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/chatdm/internal/auth"
	"github.com/bcem/chatdm/internal/models"
	"github.com/bcem/chatdm/internal/render"
)

// Gate yields the delegated credential for a run.
type Gate interface {
	Acquire(ctx context.Context) (*auth.Credential, error)
}

// Directory resolves email addresses to directory users.
type Directory interface {
	FindUserByEmail(ctx context.Context, token, email string) (*models.Identity, error)
}

// Messenger creates chats and posts messages into them.
type Messenger interface {
	CreateOneOnOneChat(ctx context.Context, token, senderID, recipientID string) (*models.Conversation, error)
	SendChatMessage(ctx context.Context, token, chatID, html string) (*models.SentMessage, error)
}

// Store is the checkpoint workbook: loaded once, saved once.
type Store interface {
	Load(ctx context.Context) ([]*models.Recipient, error)
	Save(ctx context.Context, rows []*models.Recipient) error
}

// Locker serialises runs against one workbook. Implemented by runlock.Locker.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(context.Context) error, err error)
}

// Journal observes a run. Implemented by the audit ledger and the outcome
// event publisher. Journal errors are logged and never fail the run.
type Journal interface {
	BeginRun(ctx context.Context, runID string, startedAt time.Time) error
	RecordOutcome(ctx context.Context, runID string, o models.Outcome) error
	FinishRun(ctx context.Context, summary models.RunSummary) error
}

// Runner executes batch runs.
type Runner struct {
	gate         Gate
	directory    Directory
	messenger    Messenger
	store        Store
	serviceEmail string
	locker       Locker
	lockKey      string
	journals     []Journal
	now          func() time.Time
}

// RunnerConfig holds dependencies for the runner.
type RunnerConfig struct {
	Gate                Gate
	Directory           Directory
	Messenger           Messenger
	Store               Store
	ServiceAccountEmail string

	// Optional
	Locker   Locker
	LockKey  string
	Journals []Journal
}

// NewRunner creates a batch runner.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		gate:         cfg.Gate,
		directory:    cfg.Directory,
		messenger:    cfg.Messenger,
		store:        cfg.Store,
		serviceEmail: strings.TrimSpace(cfg.ServiceAccountEmail),
		locker:       cfg.Locker,
		lockKey:      cfg.LockKey,
		journals:     cfg.Journals,
		now:          time.Now,
	}
}

// Run processes the workbook once. A non-nil error is always a *RunError;
// per-row failures are reported only through row statuses and the summary.
func (r *Runner) Run(ctx context.Context) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: r.now().UTC(),
	}

	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, r.lockKey)
		if err != nil {
			return nil, runErr(KindLock, "acquire run lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("failed to release run lock", "key", r.lockKey, "error", err)
			}
		}()
	}

	cred, err := r.gate.Acquire(ctx)
	if err != nil {
		return nil, &RunError{Kind: KindAuth, Err: err}
	}

	if r.serviceEmail == "" {
		return nil, runErr(KindConfig, "SERVICE_ACCOUNT_EMAIL is not set")
	}
	svc, err := r.directory.FindUserByEmail(ctx, cred.AccessToken, r.serviceEmail)
	if err != nil {
		return nil, runErr(KindConfig, "resolve service account %s: %w", r.serviceEmail, err)
	}
	if svc == nil {
		return nil, runErr(KindConfig, "service account not found: %s", r.serviceEmail)
	}

	slog.Info("service account resolved",
		"email", r.serviceEmail,
		"user_id", svc.ID,
		"run_id", summary.RunID,
	)

	rows, err := r.store.Load(ctx)
	if err != nil {
		return nil, &RunError{Kind: KindStore, Err: err}
	}

	r.each(func(j Journal) error { return j.BeginRun(ctx, summary.RunID, summary.StartedAt) })

	interrupted := false
	for _, row := range rows {
		// Rows not yet attempted stay clean so the next run picks them up.
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		outcome := r.processRow(ctx, cred.AccessToken, svc.ID, row)
		summary.Add(outcome)
		r.each(func(j Journal) error { return j.RecordOutcome(ctx, summary.RunID, outcome) })
	}

	// Flush regardless of how many rows failed.
	if err := r.store.Save(context.WithoutCancel(ctx), rows); err != nil {
		summary.Error = err.Error()
		summary.FinishedAt = r.now().UTC()
		r.each(func(j Journal) error { return j.FinishRun(context.WithoutCancel(ctx), *summary) })
		return nil, &RunError{Kind: KindStore, Err: err}
	}

	summary.FinishedAt = r.now().UTC()

	if interrupted {
		err := runErr(KindCancelled, "run cancelled after %d of %d rows: %w", summary.Total, len(rows), ctx.Err())
		summary.Error = err.Error()
		r.each(func(j Journal) error { return j.FinishRun(context.WithoutCancel(ctx), *summary) })
		slog.Warn("run interrupted",
			"run_id", summary.RunID,
			"attempted", summary.Total,
			"remaining", len(rows)-summary.Total,
		)
		return nil, err
	}

	r.each(func(j Journal) error { return j.FinishRun(context.WithoutCancel(ctx), *summary) })

	slog.Info("run complete",
		"run_id", summary.RunID,
		"total", summary.Total,
		"sent", summary.Sent,
		"skipped", summary.Skipped,
		"no_email", summary.NoEmail,
		"user_not_found", summary.UserNotFound,
		"failed", summary.Failed,
	)

	return summary, nil
}

// processRow drives one row to its outcome. It never returns an error:
// anything that goes wrong after the email check marks the row Failed.
func (r *Runner) processRow(ctx context.Context, token, senderID string, row *models.Recipient) models.Outcome {
	out := models.Outcome{Row: row.Index, Email: row.Email}

	if models.IsSent(row.Status) {
		out.Status = models.StatusSent
		out.Skipped = true
		out.MessageID = row.MessageID
		return out
	}

	if row.Email == "" {
		row.MarkStatus(models.StatusNoEmail)
		out.Status = models.StatusNoEmail
		return out
	}

	fail := func(stage models.Stage, err error) models.Outcome {
		slog.Error("row failed",
			"row", row.Index,
			"email", row.Email,
			"stage", stage,
			"error", err,
		)
		row.MarkStatus(models.StatusFailed)
		out.Status = models.StatusFailed
		out.Stage = stage
		out.Error = err.Error()
		return out
	}

	recipient, err := r.directory.FindUserByEmail(ctx, token, row.Email)
	if err != nil {
		return fail(models.StageResolve, err)
	}
	if recipient == nil {
		slog.Warn("recipient not found in directory", "row", row.Index, "email", row.Email)
		row.MarkStatus(models.StatusUserNotFound)
		out.Status = models.StatusUserNotFound
		return out
	}

	chat, err := r.messenger.CreateOneOnOneChat(ctx, token, senderID, recipient.ID)
	if err != nil {
		return fail(models.StageConversation, err)
	}
	out.ChatID = chat.ID

	html := render.Render(row.Message, render.Fields{FirstName: row.FirstName})
	msg, err := r.messenger.SendChatMessage(ctx, token, chat.ID, html)
	if err != nil {
		return fail(models.StageSend, err)
	}

	at := r.now()
	row.MarkSent(msg.ID, at)
	out.Status = models.StatusSent
	out.MessageID = msg.ID
	out.SentAt = at.UTC()

	slog.Info("message sent",
		"row", row.Index,
		"email", row.Email,
		"chat_id", chat.ID,
		"message_id", msg.ID,
	)
	return out
}

func (r *Runner) each(fn func(Journal) error) {
	for _, j := range r.journals {
		if err := fn(j); err != nil {
			slog.Warn("journal write failed", "journal", fmt.Sprintf("%T", j), "error", err)
		}
	}
}

// Response renders the outcome of a run as the status/body pair returned to
// whoever triggered it.
func Response(summary *models.RunSummary, err error) (int, string) {
	if err != nil {
		var re *RunError
		if errors.As(err, &re) {
			return 500, "Error: " + re.Err.Error()
		}
		return 500, "Error: " + err.Error()
	}
	return 200, fmt.Sprintf(
		"Processing complete; check the workbook for results. sent=%d skipped=%d no_email=%d user_not_found=%d failed=%d",
		summary.Sent, summary.Skipped, summary.NoEmail, summary.UserNotFound, summary.Failed,
	)
}

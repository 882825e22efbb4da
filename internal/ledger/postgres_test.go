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
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/chatdm/internal/models"
)

// testPool connects to TEST_DATABASE_URL or skips.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("connect TEST_DATABASE_URL: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgres_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := testPool(t)

	l, err := NewPostgres(ctx, pool)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}

	runID := "test-" + uuid.New().String()
	t.Cleanup(func() {
		pool.Exec(context.Background(), `DELETE FROM outcomes WHERE run_id = $1`, runID)
		pool.Exec(context.Background(), `DELETE FROM runs WHERE run_id = $1`, runID)
	})

	// Far in the future so RecentRuns(1) returns this run first.
	started := time.Date(2999, 1, 1, 9, 0, 0, 0, time.UTC)
	sentAt := started.Add(time.Second)

	if err := l.BeginRun(ctx, runID, started); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := l.BeginRun(ctx, runID, started); err != nil {
		t.Fatalf("second BeginRun: %v", err)
	}

	outcomes := []models.Outcome{
		{Row: 2, Email: "ann@example.com", Status: models.StatusSent, ChatID: "c1", MessageID: "m1", SentAt: sentAt},
		{Row: 3, Email: "bob@example.com", Status: models.StatusFailed, Stage: models.StageSend, Error: "graph API returned HTTP 500"},
	}
	for _, o := range outcomes {
		if err := l.RecordOutcome(ctx, runID, o); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	summary := models.RunSummary{RunID: runID, FinishedAt: started.Add(time.Minute), Total: 2, Sent: 1, Failed: 1}
	if err := l.FinishRun(ctx, summary); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := l.Outcomes(ctx, runID)
	if err != nil {
		t.Fatalf("Outcomes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(got))
	}
	if got[0].MessageID != "m1" || !got[0].SentAt.Equal(sentAt) {
		t.Errorf("sent outcome = %+v", got[0])
	}
	if got[1].Stage != models.StageSend || got[1].Error == "" || !got[1].SentAt.IsZero() {
		t.Errorf("failed outcome = %+v", got[1])
	}

	runs, err := l.RecentRuns(ctx, 1)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != runID {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].Sent != 1 || runs[0].Failed != 1 || runs[0].Total != 2 {
		t.Errorf("counts = %+v", runs[0])
	}
	if !runs[0].FinishedAt.Equal(summary.FinishedAt) {
		t.Errorf("finished_at = %v, want %v", runs[0].FinishedAt, summary.FinishedAt)
	}
}

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

package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/bcem/chatdm/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse TEST_REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestPublisher_RunLifecycle(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	queueName := "test-outcomes-" + uuid.New().String()
	defer rdb.Del(ctx, queueName)

	p := NewPublisher(rdb, queueName)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	if err := p.BeginRun(ctx, "run-1", fixed); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	o := models.Outcome{Row: 2, Email: "ann@example.com", Status: models.StatusFailed, Stage: models.StageSend, Error: "boom"}
	if err := p.RecordOutcome(ctx, "run-1", o); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := p.FinishRun(ctx, models.RunSummary{RunID: "run-1", Total: 1, Failed: 1}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	// LPUSH puts the newest first; read oldest first.
	raw, err := rdb.LRange(ctx, queueName, 0, -1).Result()
	if err != nil {
		t.Fatalf("LRANGE: %v", err)
	}
	if len(raw) != 3 {
		t.Fatalf("queue length = %d, want 3", len(raw))
	}

	wantTypes := []string{EventRunStarted, EventRowOutcome, EventRunFinished}
	for i, want := range wantTypes {
		var ev Event
		if err := json.Unmarshal([]byte(raw[len(raw)-1-i]), &ev); err != nil {
			t.Fatalf("unmarshal event %d: %v", i, err)
		}
		if ev.Type != want {
			t.Errorf("event %d type = %q, want %q", i, ev.Type, want)
		}
		if ev.RunID != "run-1" {
			t.Errorf("event %d run_id = %q", i, ev.RunID)
		}
		if !ev.OccurredAt.Equal(fixed) {
			t.Errorf("event %d occurred_at = %v", i, ev.OccurredAt)
		}
		if ev.Type == EventRowOutcome {
			var got models.Outcome
			if err := json.Unmarshal(ev.Payload, &got); err != nil {
				t.Fatalf("unmarshal outcome: %v", err)
			}
			if got.Stage != models.StageSend || got.Error != "boom" {
				t.Errorf("outcome payload = %+v", got)
			}
		}
	}
}

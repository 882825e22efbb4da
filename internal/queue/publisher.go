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

// Package queue publishes run outcomes to a Redis list so downstream
// consumers (reporting, alerting) can follow a run without reading the
// workbook.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/chatdm/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event types pushed to the queue.
const (
	EventRunStarted  = "run.started"
	EventRowOutcome  = "row.outcome"
	EventRunFinished = "run.finished"
)

// Event is the JSON envelope pushed for every event.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	RunID      string          `json:"run_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher pushes outcome events onto a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
	now       func() time.Time
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
		now:       time.Now,
	}
}

// BeginRun announces a new run.
func (p *Publisher) BeginRun(ctx context.Context, runID string, startedAt time.Time) error {
	return p.publish(ctx, EventRunStarted, runID, map[string]any{
		"started_at": startedAt.UTC(),
	})
}

// RecordOutcome publishes the result of one row.
func (p *Publisher) RecordOutcome(ctx context.Context, runID string, o models.Outcome) error {
	return p.publish(ctx, EventRowOutcome, runID, o)
}

// FinishRun publishes the run summary.
func (p *Publisher) FinishRun(ctx context.Context, summary models.RunSummary) error {
	return p.publish(ctx, EventRunFinished, summary.RunID, summary)
}

func (p *Publisher) publish(ctx context.Context, eventType, runID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	ev := Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		RunID:      runID,
		OccurredAt: p.now().UTC(),
		Payload:    body,
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Consumers BRPOP, so LPUSH keeps the list FIFO.
	if err := p.rdb.LPush(ctx, p.queueName, string(msg)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published outcome event",
		"event_id", ev.ID,
		"type", eventType,
		"run_id", runID,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}

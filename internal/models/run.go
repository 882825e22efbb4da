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

package models

import "time"

// Stage names the step of the row pipeline in which a failure happened.
type Stage string

const (
	StageNone         Stage = ""
	StageResolve      Stage = "resolve"
	StageConversation Stage = "conversation"
	StageSend         Stage = "send"
)

// Outcome is the result of driving one row through the pipeline.
type Outcome struct {
	Row       int       `json:"row"`
	Email     string    `json:"email,omitempty"`
	Status    Status    `json:"status"`
	Skipped   bool      `json:"skipped,omitempty"`
	Stage     Stage     `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	SentAt    time.Time `json:"sent_at,omitempty"`
}

// RunSummary tallies the outcomes of one run.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Total        int       `json:"total"`
	Sent         int       `json:"sent"`
	Skipped      int       `json:"skipped"`
	NoEmail      int       `json:"no_email"`
	UserNotFound int       `json:"user_not_found"`
	Failed       int       `json:"failed"`
	Error        string    `json:"error,omitempty"`
}

// Add counts an outcome into the summary.
func (s *RunSummary) Add(o Outcome) {
	s.Total++
	if o.Skipped {
		s.Skipped++
		return
	}
	switch o.Status {
	case StatusSent:
		s.Sent++
	case StatusNoEmail:
		s.NoEmail++
	case StatusUserNotFound:
		s.UserNotFound++
	case StatusFailed:
		s.Failed++
	}
}

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

// Package models defines the data structures shared across the sender.
package models

import (
	"strings"
	"time"
)

// Status is the per-recipient processing state stored in the workbook.
type Status string

const (
	StatusPending      Status = ""
	StatusSent         Status = "Sent"
	StatusNoEmail      Status = "NoEmail"
	StatusUserNotFound Status = "UserNotFound"
	StatusFailed       Status = "Failed"
)

// IsSent reports whether a stored status value means the row was already
// delivered. Operators edit the sheet by hand, so the match ignores case and
// surrounding whitespace.
func IsSent(stored string) bool {
	return strings.EqualFold(strings.TrimSpace(stored), string(StatusSent))
}

// Recipient is one data row of the checkpoint workbook.
type Recipient struct {
	Index     int // 1-based sheet row
	FirstName string
	Email     string
	Message   string
	Status    string
	MessageID string
	SentAt    string

	// Dirty is set whenever the row's stored cells change during a run.
	Dirty bool
}

// MarkStatus records a non-success outcome on the row.
func (r *Recipient) MarkStatus(s Status) {
	r.Status = string(s)
	r.Dirty = true
}

// MarkSent records a successful delivery on the row.
func (r *Recipient) MarkSent(messageID string, at time.Time) {
	r.Status = string(StatusSent)
	r.MessageID = messageID
	r.SentAt = FormatTimestamp(at)
	r.Dirty = true
}

// FormatTimestamp renders the SentAt cell value (UTC, millisecond precision).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Identity is a directory user resolved from an email address.
type Identity struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Conversation is a one-on-one chat created for a single row.
type Conversation struct {
	ID       string `json:"id"`
	ChatType string `json:"chatType"`
}

// SentMessage is the Graph response to a posted chat message.
type SentMessage struct {
	ID              string `json:"id"`
	CreatedDateTime string `json:"createdDateTime,omitempty"`
}

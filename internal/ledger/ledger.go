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

// Package ledger records every run and every row outcome in a SQL database.
// The workbook only keeps the coarse Failed status; the ledger keeps the
// failing stage and the error text next to it.
//
// Two backends share one schema: Postgres through pgxpool for deployments
// that already run a database, and a local SQLite file otherwise.
package ledger

import (
	"time"

	"github.com/bcem/chatdm/internal/models"
)

// Run is one stored run summary.
type Run = models.RunSummary

// outcomeTime returns a nullable sent_at value.
func outcomeTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

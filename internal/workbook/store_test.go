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

package workbook

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/bcem/chatdm/internal/models"
)

// writeFixture creates a workbook whose first sheet holds rows.
func writeFixture(t *testing.T, rows [][]string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, v := range row {
			name, _ := excelize.CoordinatesToCellName(c+1, r+1)
			if err := f.SetCellValue(sheet, name, v); err != nil {
				t.Fatalf("set %s: %v", name, err)
			}
		}
	}

	path := filepath.Join(t.TempDir(), "recipients.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save fixture: %v", err)
	}
	return path
}

func readBack(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	return rows
}

// TestLoad_CaseInsensitiveHeaders verifies header matching and row order.
func TestLoad_CaseInsensitiveHeaders(t *testing.T) {
	path := writeFixture(t, [][]string{
		{" firstname ", "EMAIL", "message", "Status"},
		{"Ann", "ann@example.com", "Hi ((FirstName))", ""},
		{"Bob", "", "Hello", "sent"},
	})

	s := NewStore(path)
	defer s.Close()

	rows, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	if rows[0].Index != 2 || rows[0].FirstName != "Ann" || rows[0].Email != "ann@example.com" {
		t.Errorf("row[0] = %+v", rows[0])
	}
	if rows[0].Message != "Hi ((FirstName))" {
		t.Errorf("message = %q", rows[0].Message)
	}
	if rows[1].Index != 3 || rows[1].Email != "" || rows[1].Status != "sent" {
		t.Errorf("row[1] = %+v", rows[1])
	}
}

// TestLoad_MissingRequiredColumn verifies ErrMissingColumn lists the gaps.
func TestLoad_MissingRequiredColumn(t *testing.T) {
	path := writeFixture(t, [][]string{
		{"FirstName", "Message"},
		{"Ann", "Hi"},
	})

	s := NewStore(path)
	_, err := s.Load(context.Background())
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("err = %v, want ErrMissingColumn", err)
	}
	if err.Error() != "required column missing: Email, Status" {
		t.Errorf("error = %q", err.Error())
	}
}

// TestSave_AppendsColumnsAndWritesDirtyRows verifies the end-of-run flush.
func TestSave_AppendsColumnsAndWritesDirtyRows(t *testing.T) {
	path := writeFixture(t, [][]string{
		{"FirstName", "Email", "Message", "Status"},
		{"Ann", "ann@example.com", "Hi", ""},
		{"Bob", "", "Hi", ""},
		{"Cy", "cy@example.com", "Hi", "Pending"},
	})

	s := NewStore(path)
	defer s.Close()

	rows, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	at := time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	rows[0].MarkSent("msg-1", at)
	rows[1].MarkStatus(models.StatusNoEmail)
	// rows[2] untouched

	if err := s.Save(context.Background(), rows); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := readBack(t, path)
	wantHeader := []string{"FirstName", "Email", "Message", "Status", "MessageId", "SentAt"}
	for i, h := range wantHeader {
		if got[0][i] != h {
			t.Errorf("header[%d] = %q, want %q", i, got[0][i], h)
		}
	}

	if got[1][3] != "Sent" || got[1][4] != "msg-1" || got[1][5] != "2026-03-04T05:06:07.008Z" {
		t.Errorf("sent row = %v", got[1])
	}
	if got[2][3] != "NoEmail" || len(got[2]) > 4 {
		t.Errorf("no-email row = %v", got[2])
	}
	if got[3][3] != "Pending" {
		t.Errorf("untouched row = %v", got[3])
	}

	for _, r := range rows {
		if r.Dirty {
			t.Errorf("row %d still dirty after save", r.Index)
		}
	}
}

// TestSave_ExistingTrackingColumns verifies existing MessageId/SentAt are reused.
func TestSave_ExistingTrackingColumns(t *testing.T) {
	path := writeFixture(t, [][]string{
		{"SentAt", "FirstName", "Email", "Message", "Status", "MessageId"},
		{"2025-01-01T00:00:00.000Z", "Ann", "ann@example.com", "Hi", "Sent", "old-id"},
		{"", "Bob", "bob@example.com", "Hi", ""},
	})

	s := NewStore(path)
	defer s.Close()

	rows, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rows[0].MessageID != "old-id" || rows[0].SentAt != "2025-01-01T00:00:00.000Z" {
		t.Errorf("row[0] = %+v", rows[0])
	}

	rows[1].MarkStatus(models.StatusFailed)
	if err := s.Save(context.Background(), rows); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := readBack(t, path)
	if len(got[0]) != 6 {
		t.Errorf("header should not grow, got %v", got[0])
	}
	if got[1][5] != "old-id" || got[1][0] != "2025-01-01T00:00:00.000Z" {
		t.Errorf("sent row changed: %v", got[1])
	}
	if got[2][4] != "Failed" {
		t.Errorf("failed row = %v", got[2])
	}
}

func TestSave_NotLoaded(t *testing.T) {
	if err := NewStore("unused.xlsx").Save(context.Background(), nil); err == nil {
		t.Fatal("expected error saving an unloaded store")
	}
}

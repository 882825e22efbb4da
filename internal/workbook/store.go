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

// Package workbook is the checkpoint store: an .xlsx file whose first sheet
// lists recipients. It is read once at the start of a run and written once
// at the end, replacing the original file.
package workbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/bcem/chatdm/internal/models"
)

// Column headers. Lookup is case-insensitive.
const (
	ColFirstName = "FirstName"
	ColEmail     = "Email"
	ColMessage   = "Message"
	ColStatus    = "Status"
	ColMessageID = "MessageId"
	ColSentAt    = "SentAt"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("required column missing")

// columns holds 1-based column numbers for each header.
type columns struct {
	firstName, email, message, status, messageID, sentAt int
}

// Store reads and writes the recipients workbook.
type Store struct {
	path string

	file   *excelize.File
	sheet  string
	cols   columns
	header bool // header cells were appended and must be written
}

// NewStore creates a workbook store for the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load opens the workbook and returns every data row in sheet order.
// MessageId and SentAt columns are added after the last header if missing.
func (s *Store) Load(_ context.Context) ([]*models.Recipient, error) {
	// A long-lived server reloads the file on every run.
	if err := s.Close(); err != nil {
		slog.Warn("closing previous workbook failed", "path", s.path, "error", err)
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", s.path, err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("workbook %s has no sheets", s.path)
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}

	cols, appended, err := locateColumns(header)
	if err != nil {
		f.Close()
		return nil, err
	}

	s.file = f
	s.sheet = sheet
	s.cols = cols
	s.header = appended

	var recipients []*models.Recipient
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		recipients = append(recipients, &models.Recipient{
			Index:     i + 1,
			FirstName: cell(row, cols.firstName),
			Email:     cell(row, cols.email),
			Message:   rawCell(row, cols.message),
			Status:    cell(row, cols.status),
			MessageID: cell(row, cols.messageID),
			SentAt:    cell(row, cols.sentAt),
		})
	}

	slog.Info("workbook loaded",
		"path", s.path,
		"sheet", sheet,
		"rows", len(recipients),
	)

	return recipients, nil
}

// Save writes the changed cells of dirty rows and replaces the workbook
// file. Only Status and, for sent rows, MessageId and SentAt are written.
func (s *Store) Save(_ context.Context, recipients []*models.Recipient) error {
	if s.file == nil {
		return errors.New("workbook not loaded")
	}

	if s.header {
		if err := s.set(1, s.cols.messageID, ColMessageID); err != nil {
			return err
		}
		if err := s.set(1, s.cols.sentAt, ColSentAt); err != nil {
			return err
		}
	}

	written := 0
	for _, r := range recipients {
		if !r.Dirty {
			continue
		}
		if err := s.set(r.Index, s.cols.status, r.Status); err != nil {
			return err
		}
		if r.Status == string(models.StatusSent) {
			if err := s.set(r.Index, s.cols.messageID, r.MessageID); err != nil {
				return err
			}
			if err := s.set(r.Index, s.cols.sentAt, r.SentAt); err != nil {
				return err
			}
		}
		written++
	}

	if err := s.file.SaveAs(s.path); err != nil {
		return fmt.Errorf("save workbook %s: %w", s.path, err)
	}
	for _, r := range recipients {
		r.Dirty = false
	}

	slog.Info("workbook saved", "path", s.path, "rows_written", written)
	return nil
}

// Close releases the open workbook.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *Store) set(row, col int, value string) error {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("cell name for row %d col %d: %w", row, col, err)
	}
	if err := s.file.SetCellValue(s.sheet, name, value); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

// locateColumns maps headers to column numbers, appending MessageId and
// SentAt as new trailing columns when absent.
func locateColumns(header []string) (columns, bool, error) {
	find := func(name string) int {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i + 1
			}
		}
		return 0
	}

	cols := columns{
		firstName: find(ColFirstName),
		email:     find(ColEmail),
		message:   find(ColMessage),
		status:    find(ColStatus),
		messageID: find(ColMessageID),
		sentAt:    find(ColSentAt),
	}

	var missing []string
	for name, c := range map[string]int{
		ColFirstName: cols.firstName,
		ColEmail:     cols.email,
		ColMessage:   cols.message,
		ColStatus:    cols.status,
	} {
		if c == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return cols, false, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	appended := false
	next := len(header) + 1
	if cols.messageID == 0 {
		cols.messageID = next
		next++
		appended = true
	}
	if cols.sentAt == 0 {
		cols.sentAt = next
		appended = true
	}
	return cols, appended, nil
}

func cell(row []string, col int) string {
	return strings.TrimSpace(rawCell(row, col))
}

func rawCell(row []string, col int) string {
	if col < 1 || col > len(row) {
		return ""
	}
	return row[col-1]
}

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

package dispatch_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/bcem/chatdm/internal/auth"
	"github.com/bcem/chatdm/internal/dispatch"
	"github.com/bcem/chatdm/internal/graph"
	"github.com/bcem/chatdm/internal/models"
	"github.com/bcem/chatdm/internal/workbook"
)

type staticGate struct{}

func (staticGate) Acquire(context.Context) (*auth.Credential, error) {
	return &auth.Credential{AccessToken: "tok", Claims: auth.Claims{Scopes: []string{"Chat.Create"}}}, nil
}

// fakeGraph serves the three Graph operations a run uses.
type fakeGraph struct {
	mu       sync.Mutex
	users    map[string]string // mail -> id
	lookups  []string
	chats    int
	messages []string
}

func (g *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/users":
		filter := r.URL.Query().Get("$filter")
		g.lookups = append(g.lookups, filter)
		var value []models.Identity
		for mail, id := range g.users {
			if strings.Contains(filter, "mail eq '"+mail+"'") {
				value = append(value, models.Identity{ID: id, Mail: mail})
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"value": value})

	case r.Method == http.MethodPost && r.URL.Path == "/chats":
		g.chats++
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"19:chat-%d@unq.gbl.spaces"}`, g.chats)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
		var req struct {
			Body struct {
				Content string `json:"content"`
			} `json:"body"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		g.messages = append(g.messages, req.Body.Content)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"m-%d"}`, len(g.messages))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeBook(t *testing.T, rows [][]string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, v := range row {
			name, _ := excelize.CoordinatesToCellName(c+1, r+1)
			f.SetCellValue(sheet, name, v)
		}
	}
	path := filepath.Join(t.TempDir(), "recipients.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

func readBook(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(f.GetSheetName(0))
	return rows
}

func runOnce(t *testing.T, path string, client *graph.Client) *models.RunSummary {
	t.Helper()
	store := workbook.NewStore(path)
	defer store.Close()

	runner := dispatch.NewRunner(dispatch.RunnerConfig{
		Gate:                staticGate{},
		Directory:           client,
		Messenger:           client,
		Store:               store,
		ServiceAccountEmail: "svc@example.com",
	})
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return summary
}

// TestRun_EndToEndResumable runs twice against the same workbook and checks
// the second run sends nothing and leaves delivered rows unchanged.
func TestRun_EndToEndResumable(t *testing.T) {
	fg := &fakeGraph{users: map[string]string{
		"svc@example.com": "svc-id",
		"ann@example.com": "ann-id",
	}}
	server := httptest.NewServer(fg)
	defer server.Close()

	client := graph.NewClient(graph.ClientConfig{BaseURL: server.URL})

	path := writeBook(t, [][]string{
		{"FirstName", "Email", "Message", "Status"},
		{"Old", "old@example.com", "Hi", "Sent"},
		{"Nobody", "", "Hi ((FirstName))", ""},
		{"Ann", "ann@example.com", "<p>Hi ((FirstName))!</p>", ""},
		{"Ghost", "ghost@example.com", "Hi", ""},
	})

	first := runOnce(t, path, client)
	if first.Sent != 1 || first.Skipped != 1 || first.NoEmail != 1 || first.UserNotFound != 1 {
		t.Errorf("first summary = %+v", first)
	}
	if len(fg.messages) != 1 || fg.messages[0] != "<p>Hi Ann!</p>" {
		t.Errorf("messages = %v", fg.messages)
	}

	after1 := readBook(t, path)
	wantStatus := []string{"Sent", "NoEmail", "Sent", "UserNotFound"}
	for i, want := range wantStatus {
		if after1[i+1][3] != want {
			t.Errorf("row %d status = %q, want %q", i+2, after1[i+1][3], want)
		}
	}
	if after1[3][4] != "m-1" || after1[3][5] == "" {
		t.Errorf("sent row tracking cells = %v", after1[3])
	}

	chatsBefore := fg.chats
	second := runOnce(t, path, client)
	if second.Sent != 0 || second.Skipped != 2 {
		t.Errorf("second summary = %+v", second)
	}
	if fg.chats != chatsBefore {
		t.Errorf("second run created %d chats for already-sent rows", fg.chats-chatsBefore)
	}

	after2 := readBook(t, path)
	if after2[3][4] != after1[3][4] || after2[3][5] != after1[3][5] {
		t.Errorf("sent row changed on resume: %v -> %v", after1[3], after2[3])
	}
}

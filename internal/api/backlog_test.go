package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/reqai/internal/backlog"
	"github.com/kalambet/reqai/internal/llm"
	"github.com/kalambet/reqai/internal/pipeline"
)

func sampleSet() backlog.Set {
	return backlog.Set{
		Items: []backlog.Item{
			{ID: "e1", Type: backlog.TypeEpic, Summary: "Authentication"},
			{ID: "s1", Type: backlog.TypeStory, Summary: "Log in", Parent: "e1", ParentSummary: "Authentication"},
			{ID: "t1", Type: backlog.TypeTask, Summary: "Login form", Parent: "s1", ParentSummary: "Log in"},
			{ID: "x1", Type: backlog.TypeTask, Summary: "Stray", ParentSummary: "Missing story"},
		},
		Source:      "Users can log in.",
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBacklog_Generate(t *testing.T) {
	deps := testDeps()
	fa := &fakeAssistant{set: sampleSet()}
	deps.Assistant = fa
	h := NewHandler(deps)

	rr := serve(h, httptest.NewRequest(http.MethodPost, "/api/backlog", strings.NewReader(`{"text":"Users can log in."}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if fa.genText != "Users can log in." {
		t.Errorf("generator text = %q", fa.genText)
	}

	var body struct {
		Items  []backlog.Item `json:"structuredItems"`
		Tree   []backlog.Node `json:"tree"`
		Counts backlog.Counts `json:"counts"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Items) != 4 {
		t.Errorf("items = %d, want 4", len(body.Items))
	}
	if len(body.Tree) != 1 || len(body.Tree[0].Children) != 1 {
		t.Fatalf("tree = %+v, want one epic with one story", body.Tree)
	}
	if body.Counts.Orphans != 1 || body.Counts.Total != 4 {
		t.Errorf("counts = %+v, want 1 orphan of 4", body.Counts)
	}
}

func TestBacklog_EmptyBodyUsesSnapshot(t *testing.T) {
	deps := testDeps()
	fa := &fakeAssistant{set: sampleSet()}
	deps.Assistant = fa
	h := NewHandler(deps)

	rr := serve(h, httptest.NewRequest(http.MethodPost, "/api/backlog", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if fa.genText != "" {
		t.Errorf("generator text = %q, want empty", fa.genText)
	}
}

func TestBacklog_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no input", backlog.ErrNoInput, http.StatusBadRequest},
		{"malformed output", fmt.Errorf("%w: not JSON", backlog.ErrMalformedOutput), http.StatusBadGateway},
		{"upstream", fmt.Errorf("generating backlog: %w", llm.ErrUpstream), http.StatusBadGateway},
		{"other", fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps()
			deps.Assistant = &fakeAssistant{genErr: tt.err}
			h := NewHandler(deps)

			rr := serve(h, httptest.NewRequest(http.MethodPost, "/api/backlog", strings.NewReader(`{"text":"x"}`)))
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestBacklogExport(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		query       string
		contentType string
		filename    string
		contains    string
	}{
		{"", "application/json", "jira-items-2026-03-02T09-30-00.json", `"summary": "Authentication"`},
		{"?view=tree&format=yaml", "application/yaml", "jira-tree-2026-03-02T09-30-00.yaml", "children:"},
		{"?view=raw", "application/json", "jira-full-result-2026-03-02T09-30-00.json", `"structuredItems"`},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			deps := testDeps()
			deps.Assistant = &fakeAssistant{set: sampleSet()}
			deps.Now = func() time.Time { return now }
			h := NewHandler(deps)

			rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/backlog/export"+tt.query, nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
			}
			if got := rr.Header().Get("Content-Type"); got != tt.contentType {
				t.Errorf("Content-Type = %q, want %q", got, tt.contentType)
			}
			if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, tt.filename) {
				t.Errorf("Content-Disposition = %q, want filename %q", got, tt.filename)
			}
			if !strings.Contains(rr.Body.String(), tt.contains) {
				t.Errorf("body does not contain %q:\n%s", tt.contains, rr.Body.String())
			}
		})
	}
}

func TestBacklogExport_Errors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		latest error
		want   int
	}{
		{"bad view", "?view=graph", nil, http.StatusBadRequest},
		{"bad format", "?format=xml", nil, http.StatusBadRequest},
		{"nothing generated", "", pipeline.ErrNoBacklog, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps()
			deps.Assistant = &fakeAssistant{set: sampleSet(), latestErr: tt.latest}
			h := NewHandler(deps)

			rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/backlog/export"+tt.query, nil))
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

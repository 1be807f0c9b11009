package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/kalambet/reqai/internal/backlog"
	"github.com/kalambet/reqai/internal/conversation"
	"github.com/kalambet/reqai/internal/extraction"
	"github.com/kalambet/reqai/internal/llm"
	"github.com/kalambet/reqai/internal/pipeline"
)

const testToken = "test-token-12345"

// --- fakes ---

type fakeAssistant struct {
	mu sync.Mutex

	reply   llm.Reply
	sendErr error

	upload    pipeline.UploadResult
	uploadErr error
	uploads   []extraction.Upload

	set       backlog.Set
	genErr    error
	genText   string
	latestErr error
}

func (f *fakeAssistant) Send(_ context.Context, sess *conversation.Session, text string) (llm.Reply, error) {
	if f.sendErr != nil {
		return llm.Reply{}, f.sendErr
	}
	sess.Append(
		llm.Message{Role: llm.RoleUser, Content: text},
		llm.Message{Role: llm.RoleAssistant, Content: f.reply.Text},
	)
	return f.reply, nil
}

func (f *fakeAssistant) Upload(_ context.Context, _ *conversation.Session, uploads []extraction.Upload) (pipeline.UploadResult, error) {
	f.mu.Lock()
	f.uploads = uploads
	f.mu.Unlock()
	return f.upload, f.uploadErr
}

func (f *fakeAssistant) GenerateBacklog(_ context.Context, text string) (backlog.Set, error) {
	f.mu.Lock()
	f.genText = text
	f.mu.Unlock()
	return f.set, f.genErr
}

func (f *fakeAssistant) LatestBacklog() (backlog.Set, error) {
	if f.latestErr != nil {
		return backlog.Set{}, f.latestErr
	}
	return f.set, nil
}

type fakeExtractor struct {
	out extraction.Outcome
	err error
	got []extraction.Upload
}

func (f *fakeExtractor) Extract(_ context.Context, uploads []extraction.Upload) (extraction.Outcome, error) {
	f.got = uploads
	return f.out, f.err
}

type fakeResults struct {
	res extraction.Result
	err error
}

func (f *fakeResults) Load() (extraction.Result, error) {
	return f.res, f.err
}

// --- helpers ---

func testDeps() Deps {
	return Deps{
		Assistant: &fakeAssistant{},
		Extractor: &fakeExtractor{},
		Results:   &fakeResults{},
		Sessions:  conversation.NewSessionStore(),
	}
}

type formFile struct {
	name, content string
}

func multipartRequest(t *testing.T, url string, files ...formFile) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		fw, err := mw.CreateFormFile("files", f.name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write([]byte(f.content))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

// --- tests ---

func TestHealth(t *testing.T) {
	h := NewHandler(testDeps())

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestBearerAuth(t *testing.T) {
	deps := testDeps()
	deps.Token = testToken
	h := NewHandler(deps)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"api without token", http.MethodGet, "/api/chat", "", http.StatusUnauthorized},
		{"api with wrong token", http.MethodGet, "/api/chat", "nope", http.StatusUnauthorized},
		{"api with token", http.MethodGet, "/api/chat", testToken, http.StatusOK},
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
		// Login is reachable without a token; it fails only because jira is unconfigured.
		{"login is public", http.MethodGet, "/api/jira/login", "", http.StatusServiceUnavailable},
		{"callback is public", http.MethodGet, "/api/jira/callback", "", http.StatusServiceUnavailable},
		{"auth data needs token", http.MethodGet, "/api/jira/auth-data", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := serve(h, req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestNoTokenLeavesAPIOpen(t *testing.T) {
	h := NewHandler(testDeps())

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

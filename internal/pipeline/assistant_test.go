package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/reqai/internal/backlog"
	"github.com/kalambet/reqai/internal/conversation"
	"github.com/kalambet/reqai/internal/extraction"
	"github.com/kalambet/reqai/internal/llm"
	"github.com/kalambet/reqai/internal/results"
	"github.com/kalambet/reqai/internal/storage"
)

// --- fakes ---

type fakeReplier struct {
	reply llm.Reply
	err   error
	sent  [][]llm.Message
	hints []string
}

func (f *fakeReplier) Reply(_ context.Context, msgs []llm.Message, hint string) (llm.Reply, error) {
	f.sent = append(f.sent, msgs)
	f.hints = append(f.hints, hint)
	return f.reply, f.err
}

type fakeExtractor struct {
	outcome extraction.Outcome
	err     error
	calls   int
}

func (f *fakeExtractor) Extract(_ context.Context, _ []extraction.Upload) (extraction.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

type fakeGenerator struct {
	got string
	set backlog.Set
	err error
}

func (f *fakeGenerator) Generate(_ context.Context, text string) (backlog.Set, error) {
	f.got = text
	f.set.Source = text
	return f.set, f.err
}

type fakeSnapshots struct {
	result extraction.Result
	err    error
}

func (f *fakeSnapshots) Load() (extraction.Result, error) { return f.result, f.err }

type memLog struct {
	mu          sync.Mutex
	responses   []storage.Response
	generations []storage.Generation
	err         error
}

func (m *memLog) SaveResponse(r storage.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, r)
	return m.err
}

func (m *memLog) SaveGeneration(g storage.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generations = append(m.generations, g)
	return m.err
}

func (m *memLog) LatestGeneration() (storage.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.generations) == 0 {
		return storage.Generation{}, storage.ErrNotFound
	}
	return m.generations[len(m.generations)-1], nil
}

type harness struct {
	assistant *Assistant
	replier   *fakeReplier
	extractor *fakeExtractor
	generator *fakeGenerator
	snapshots *fakeSnapshots
	log       *memLog
}

func newHarness() *harness {
	h := &harness{
		replier:   &fakeReplier{reply: llm.Reply{Text: "answer"}},
		extractor: &fakeExtractor{},
		generator: &fakeGenerator{},
		snapshots: &fakeSnapshots{err: results.ErrNotFound},
		log:       &memLog{},
	}
	h.assistant = NewAssistant(conversation.NewBuilder(8, 2, 1500), h.replier, h.extractor, h.generator, h.snapshots, h.log, "mistral-small")
	return h
}

// --- tests ---

func TestSendAppendsTurn(t *testing.T) {
	h := newHarness()
	sess := conversation.NewSessionStore().GetOrCreate("")

	reply, err := h.assistant.Send(context.Background(), sess, "What are NFRs?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "answer" {
		t.Errorf("reply = %q", reply.Text)
	}

	hist := sess.History()
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	if hist[1].Role != llm.RoleUser || hist[2].Role != llm.RoleAssistant || hist[2].Content != "answer" {
		t.Errorf("history = %+v", hist)
	}
	if len(h.log.responses) != 1 || h.log.responses[0].Kind != storage.KindChat || h.log.responses[0].SessionID != sess.ID {
		t.Errorf("logged responses = %+v", h.log.responses)
	}
}

func TestSendEmptyMessage(t *testing.T) {
	h := newHarness()
	sess := conversation.NewSessionStore().GetOrCreate("")
	if _, err := h.assistant.Send(context.Background(), sess, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if len(h.replier.sent) != 0 {
		t.Error("gateway called for an empty message")
	}
}

func TestSendUpstreamErrorKeepsUserMessage(t *testing.T) {
	h := newHarness()
	h.replier.err = llm.ErrUpstream
	sess := conversation.NewSessionStore().GetOrCreate("")

	_, err := h.assistant.Send(context.Background(), sess, "hello")
	if !errors.Is(err, llm.ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if n := len(sess.History()); n != 2 {
		t.Errorf("history length = %d, want 2", n)
	}
	if len(h.log.responses) != 0 {
		t.Error("failed turn was logged")
	}
}

func TestSendTurnInProgress(t *testing.T) {
	h := newHarness()
	sess := conversation.NewSessionStore().GetOrCreate("")
	release, err := sess.BeginTurn()
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if _, err := h.assistant.Send(context.Background(), sess, "hello"); !errors.Is(err, conversation.ErrTurnInProgress) {
		t.Fatalf("err = %v, want ErrTurnInProgress", err)
	}
}

func TestSendLogFailureIgnored(t *testing.T) {
	h := newHarness()
	h.log.err = errors.New("disk full")
	sess := conversation.NewSessionStore().GetOrCreate("")
	if _, err := h.assistant.Send(context.Background(), sess, "hello"); err != nil {
		t.Fatalf("log failure surfaced: %v", err)
	}
}

func TestUpload(t *testing.T) {
	h := newHarness()
	h.extractor.outcome = extraction.Outcome{
		Results: extraction.Result{
			"srs.txt":     {FileType: "txt", ExtractedText: "The system shall export CSV."},
			"diagram.png": {FileType: "png", ExtractedText: "Text extraction failed. File type requires Python libraries that couldn't be accessed."},
		},
		Degraded: true,
		Warning:  extraction.FallbackWarning,
	}
	sess := conversation.NewSessionStore().GetOrCreate("")

	res, err := h.assistant.Upload(context.Background(), sess, []extraction.Upload{
		{Name: "srs.txt"}, {Name: "diagram.png"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Extraction.Degraded {
		t.Error("degraded flag lost")
	}
	if res.Reply.Text != "## Requirements Analysis\n\nanswer" {
		t.Errorf("reply = %q", res.Reply.Text)
	}

	hist := sess.History()
	if len(hist) != 4 {
		t.Fatalf("history length = %d, want 4", len(hist))
	}
	if hist[1].Content != "I've uploaded the following files: srs.txt, diagram.png" {
		t.Errorf("upload message = %q", hist[1].Content)
	}
	if !strings.HasPrefix(hist[2].Content, "## Document Analysis Results") || hist[2].Role != llm.RoleAssistant {
		t.Errorf("digest turn = %+v", hist[2])
	}
	for _, m := range hist {
		if strings.HasPrefix(m.Content, "[CONTEXT]") {
			t.Error("context turn stored in history")
		}
	}

	sent := h.replier.sent[0]
	last := sent[len(sent)-1]
	if last.Role != llm.RoleUser || !strings.HasPrefix(last.Content, "[CONTEXT] I've uploaded documents with the following content: ") {
		t.Errorf("last transmitted message = %+v", last)
	}
	if !strings.Contains(h.replier.hints[0], "Document Analysis") {
		t.Error("digest not passed as reply hint")
	}
	if len(h.log.responses) != 1 || h.log.responses[0].Kind != storage.KindUpload {
		t.Errorf("logged responses = %+v", h.log.responses)
	}
}

func TestUploadEmptyBatch(t *testing.T) {
	h := newHarness()
	sess := conversation.NewSessionStore().GetOrCreate("")
	if _, err := h.assistant.Upload(context.Background(), sess, nil); !errors.Is(err, extraction.ErrEmptyBatch) {
		t.Fatalf("err = %v, want ErrEmptyBatch", err)
	}
	if n := len(sess.History()); n != 1 {
		t.Errorf("history changed on empty upload: %d messages", n)
	}
}

func TestUploadFailureLeavesHistoryUntouched(t *testing.T) {
	tests := []struct {
		name       string
		uploads    []extraction.Upload
		extractErr error
		wantErr    error
		wantCalls  int
	}{
		{"unnamed file", []extraction.Upload{{Name: ".."}}, nil, extraction.ErrInvalidName, 0},
		{"duplicate names", []extraction.Upload{{Name: "a.txt"}, {Name: "a.txt"}}, nil, extraction.ErrInvalidName, 0},
		{"extraction failure", []extraction.Upload{{Name: "a.txt"}}, extraction.ErrProviderFailed, extraction.ErrProviderFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.extractor.err = tt.extractErr
			sess := conversation.NewSessionStore().GetOrCreate("")

			_, err := h.assistant.Upload(context.Background(), sess, tt.uploads)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if h.extractor.calls != tt.wantCalls {
				t.Errorf("extractor calls = %d, want %d", h.extractor.calls, tt.wantCalls)
			}
			if hist := sess.History(); len(hist) != 1 {
				t.Errorf("history = %+v, want only the greeting", hist)
			}
		})
	}
}

func TestGenerateBacklogFromText(t *testing.T) {
	h := newHarness()
	h.generator.set = backlog.Set{
		Items:       []backlog.Item{{ID: "e1", Type: backlog.TypeEpic, Summary: "Accounts"}},
		GeneratedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	set, err := h.assistant.GenerateBacklog(context.Background(), "Users log in.")
	if err != nil {
		t.Fatal(err)
	}
	if h.generator.got != "Users log in." {
		t.Errorf("generator input = %q", h.generator.got)
	}
	if len(h.log.generations) != 1 || h.log.generations[0].ItemCount != 1 {
		t.Errorf("generations = %+v", h.log.generations)
	}

	latest, err := h.assistant.LatestBacklog()
	if err != nil {
		t.Fatal(err)
	}
	if len(latest.Items) != 1 || latest.Items[0].ID != set.Items[0].ID {
		t.Errorf("latest = %+v", latest)
	}
}

func TestGenerateBacklogFromSnapshot(t *testing.T) {
	h := newHarness()
	h.snapshots.err = nil
	h.snapshots.result = extraction.Result{
		"b.md":  {FileType: "md", ExtractedText: "second"},
		"a.txt": {FileType: "txt", ExtractedText: " first "},
	}

	if _, err := h.assistant.GenerateBacklog(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	want := "### a.txt\nfirst\n\n### b.md\nsecond"
	if h.generator.got != want {
		t.Errorf("generator input = %q, want %q", h.generator.got, want)
	}
}

func TestGenerateBacklogNoInput(t *testing.T) {
	h := newHarness()
	if _, err := h.assistant.GenerateBacklog(context.Background(), ""); !errors.Is(err, backlog.ErrNoInput) {
		t.Fatalf("err = %v, want ErrNoInput", err)
	}
}

func TestLatestBacklogFromLog(t *testing.T) {
	h := newHarness()
	if _, err := h.assistant.LatestBacklog(); !errors.Is(err, ErrNoBacklog) {
		t.Fatalf("err = %v, want ErrNoBacklog", err)
	}

	h.log.generations = append(h.log.generations, storage.Generation{
		ID:      "g1",
		SetJSON: `{"structuredItems":[{"id":"e1","type":"Epic","summary":"Accounts","description":""}],"source":"src"}`,
	})
	set, err := h.assistant.LatestBacklog()
	if err != nil {
		t.Fatal(err)
	}
	if set.Source != "src" || len(set.Items) != 1 || set.Items[0].Summary != "Accounts" {
		t.Errorf("set = %+v", set)
	}
}

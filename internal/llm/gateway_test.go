package llm

import (
	"context"
	"errors"
	"testing"
)

type stubCompleter struct {
	text  string
	err   error
	calls int
}

func (s *stubCompleter) Complete(_ context.Context, _ []Message) (string, error) {
	s.calls++
	return s.text, s.err
}

func TestGatewaySuccess(t *testing.T) {
	g := NewGateway(&stubCompleter{text: "answer"}, ModeFallback)
	r, err := g.Reply(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Text != "answer" || r.Fallback {
		t.Errorf("reply = %+v", r)
	}
}

func TestGatewayFallback(t *testing.T) {
	tests := []struct {
		name string
		msgs []Message
		hint string
		want string
	}{
		{
			name: "generic",
			msgs: []Message{{Role: RoleUser, Content: "What is a user story?"}},
			want: genericReply,
		},
		{
			name: "last user mentions upload",
			msgs: []Message{{Role: RoleUser, Content: "I've uploaded the following files: a.pdf"}},
			want: documentReply,
		},
		{
			name: "hint carries digest",
			msgs: []Message{{Role: RoleUser, Content: "summarize"}},
			hint: "## Document Analysis Results",
			want: documentReply,
		},
		{
			name: "older user message ignored",
			msgs: []Message{
				{Role: RoleUser, Content: "here is a file"},
				{Role: RoleAssistant, Content: "ok"},
				{Role: RoleUser, Content: "thanks"},
			},
			want: genericReply,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubCompleter{err: ErrUpstream}
			g := NewGateway(stub, ModeFallback)
			r, err := g.Reply(context.Background(), tt.msgs, tt.hint)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !r.Fallback {
				t.Error("Fallback = false, want true")
			}
			if r.Text != tt.want {
				t.Errorf("text = %q, want %q", r.Text, tt.want)
			}
			if stub.calls != 1 {
				t.Errorf("calls = %d, want 1", stub.calls)
			}
		})
	}
}

func TestGatewayErrorMode(t *testing.T) {
	g := NewGateway(&stubCompleter{err: errors.New("connection refused")}, ModeError)
	_, err := g.Reply(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
}

func TestGatewayRejectsEmpty(t *testing.T) {
	stub := &stubCompleter{text: "x"}
	g := NewGateway(stub, ModeFallback)
	if _, err := g.Reply(context.Background(), nil, ""); err == nil {
		t.Error("expected error for empty conversation")
	}
	if stub.calls != 0 {
		t.Error("upstream must not be called for an empty conversation")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != ModeFallback {
		t.Errorf("ParseMode(\"\") = %q, %v", m, err)
	}
	if m, err := ParseMode("error"); err != nil || m != ModeError {
		t.Errorf("ParseMode(error) = %q, %v", m, err)
	}
	if _, err := ParseMode("loud"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

// Package conversation keeps per-session chat history and shapes it into the
// bounded message sequence sent to the chat completion service.
package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/reqai/internal/extraction"
	"github.com/kalambet/reqai/internal/llm"
)

const (
	defaultWindow   = 8
	defaultHead     = 2
	defaultMaxChars = 1500

	systemPrefix  = "[SYSTEM] "
	contextPrefix = "[CONTEXT] I've uploaded documents with the following content: "
	previewChars  = 800
)

// ErrEmptyConversation is returned when there is nothing to send.
var ErrEmptyConversation = errors.New("conversation is empty")

// Builder turns a stored history into a transmittable message sequence.
//
// Window is the maximum number of messages sent. When the history is longer,
// the first Head messages and the last Window-Head messages are kept.
// Messages longer than MaxChars runes are cut and suffixed with "...".
type Builder struct {
	Window   int
	Head     int
	MaxChars int
}

// NewBuilder returns a Builder, replacing invalid limits with defaults.
func NewBuilder(window, head, maxChars int) *Builder {
	if window <= 0 {
		window = defaultWindow
	}
	if head < 0 || head >= window {
		head = defaultHead
		if head >= window {
			head = 0
		}
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	return &Builder{Window: window, Head: head, MaxChars: maxChars}
}

// Build returns the sequence to transmit for history. history is not modified.
// Only the first message of the result may carry the system role.
func (b *Builder) Build(history []llm.Message) ([]llm.Message, error) {
	if len(history) == 0 {
		return nil, ErrEmptyConversation
	}

	msgs := make([]llm.Message, len(history))
	copy(msgs, history)
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == llm.RoleSystem {
			msgs[i] = llm.Message{Role: llm.RoleUser, Content: systemPrefix + msgs[i].Content}
		}
	}

	if len(msgs) > b.Window {
		tail := b.Window - b.Head
		windowed := make([]llm.Message, 0, b.Window)
		windowed = append(windowed, msgs[:b.Head]...)
		windowed = append(windowed, msgs[len(msgs)-tail:]...)
		msgs = windowed
	}

	for i := range msgs {
		if i > 0 && msgs[i].Role == llm.RoleSystem {
			msgs[i].Role = llm.RoleUser
		}
		msgs[i].Content = truncate(msgs[i].Content, b.MaxChars)
	}
	return msgs, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// ContextMessage returns the machine-attached turn that gives the model the
// full extraction results.
func ContextMessage(results extraction.Result) (llm.Message, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(results); err != nil {
		return llm.Message{}, fmt.Errorf("encoding extraction results: %w", err)
	}
	return llm.Message{
		Role:    llm.RoleUser,
		Content: contextPrefix + strings.TrimRight(buf.String(), "\n"),
	}, nil
}

// ExtractionDigest renders extraction results as a short markdown summary
// for the user. Files are listed by name.
func ExtractionDigest(results extraction.Result) string {
	names := make([]string, 0, len(results))
	for n := range results {
		names = append(names, n)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("## Document Analysis Results\n\n")
	for _, name := range names {
		fr := results[name]
		fmt.Fprintf(&sb, "### 📄 %s (%s)\n", name, fr.FileType)

		text := fr.ExtractedText
		switch r := []rune(text); {
		case strings.HasPrefix(text, "Binary file"):
			sb.WriteString("_This file was processed, but full text extraction requires specialized tools. The analysis will be based on file metadata and any text that could be extracted._\n\n")
		case len(r) > previewChars:
			sb.WriteString("```\n" + strings.TrimSpace(string(r[:previewChars])) + "...\n```\n\n")
			sb.WriteString("_Note: This is a preview. The full content has been processed for analysis._\n\n")
		default:
			sb.WriteString("```\n" + strings.TrimSpace(text) + "\n```\n\n")
		}
	}
	return sb.String()
}

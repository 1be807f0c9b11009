package backlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/reqai/internal/llm"
)

var (
	// ErrNoInput is returned when there is no text to structure.
	ErrNoInput = errors.New("no requirement text to structure")
	// ErrMalformedOutput is returned when the model's answer holds no usable items.
	ErrMalformedOutput = errors.New("model output is not a backlog item list")
)

// rawItem is an item as the model writes it.
type rawItem struct {
	Type        string   `json:"type"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Labels      []string `json:"labels"`
	Parent      string   `json:"parent"`
}

// Generator asks the chat model for a backlog and normalizes the answer.
type Generator struct {
	client llm.Completer
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewGenerator creates a Generator. Failures of client are returned, never
// replaced by canned output.
func NewGenerator(client llm.Completer) *Generator {
	return &Generator{
		client: client,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
}

// Generate structures text into a backlog Set.
func (g *Generator) Generate(ctx context.Context, text string) (Set, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Set{}, ErrNoInput
	}

	raw, err := g.client.Complete(ctx, BuildPrompt(text))
	if err != nil {
		return Set{}, fmt.Errorf("generating backlog: %w", err)
	}

	parsed, err := parseItems(raw)
	if err != nil {
		g.logger.Warn("failed to parse backlog from model response", "error", err, "response", raw)
		return Set{}, err
	}

	items := g.normalize(parsed)
	if len(items) == 0 {
		return Set{}, fmt.Errorf("%w: no item has a known type and a summary", ErrMalformedOutput)
	}

	return Set{
		Items:       items,
		Source:      text,
		RawResponse: raw,
		GeneratedAt: g.now().UTC(),
	}, nil
}

// parseItems decodes a JSON array from a model answer. Code fences and prose
// around the array are ignored; an object with an "items" array is accepted.
func parseItems(raw string) ([]rawItem, error) {
	s := stripFences(raw)

	if start, end := strings.Index(s, "["), strings.LastIndex(s, "]"); start >= 0 && end > start {
		var items []rawItem
		if err := json.Unmarshal([]byte(s[start:end+1]), &items); err == nil {
			return items, nil
		}
	}
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		var wrapped struct {
			Items []rawItem `json:"items"`
		}
		if err := json.Unmarshal([]byte(s[start:end+1]), &wrapped); err == nil && wrapped.Items != nil {
			return wrapped.Items, nil
		}
	}
	return nil, ErrMalformedOutput
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// normalize assigns ids and resolves each parent summary to the first item
// of the expected parent type carrying that summary.
func (g *Generator) normalize(raw []rawItem) []Item {
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		t, ok := ParseType(r.Type)
		summary := strings.TrimSpace(r.Summary)
		if !ok || summary == "" {
			g.logger.Debug("dropping backlog item", "type", r.Type, "summary", r.Summary)
			continue
		}
		it := Item{
			ID:          g.newID(),
			Type:        t,
			Summary:     summary,
			Description: strings.TrimSpace(r.Description),
			Priority:    NormalizePriority(r.Priority),
			Labels:      cleanLabels(r.Labels),
		}
		if t != TypeEpic {
			it.ParentSummary = strings.TrimSpace(r.Parent)
		}
		items = append(items, it)
	}

	for i := range items {
		if items[i].ParentSummary == "" {
			continue
		}
		want, _ := items[i].Type.ParentType()
		for j := range items {
			if items[j].Type == want && items[j].Summary == items[i].ParentSummary {
				items[i].Parent = items[j].ID
				break
			}
		}
	}
	return items
}

func cleanLabels(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, l := range in {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

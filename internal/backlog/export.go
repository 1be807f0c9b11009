package backlog

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// View selects which part of a Set is exported.
type View string

const (
	ViewFlat View = "flat"
	ViewRaw  View = "raw"
	ViewTree View = "tree"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseView validates a view name; empty means flat.
func ParseView(s string) (View, error) {
	switch v := View(strings.ToLower(s)); v {
	case "":
		return ViewFlat, nil
	case ViewFlat, ViewRaw, ViewTree:
		return v, nil
	}
	return "", fmt.Errorf("unknown export view %q", s)
}

// ParseFormat validates a format name; empty means json.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// FileName returns the download name for an export taken at t.
func FileName(v View, f Format, t time.Time) string {
	prefix := "jira-items"
	switch v {
	case ViewRaw:
		prefix = "jira-full-result"
	case ViewTree:
		prefix = "jira-tree"
	}
	return fmt.Sprintf("%s-%s.%s", prefix, t.UTC().Format("2006-01-02T15-04-05"), f)
}

// Export writes the selected view of s to w.
func Export(w io.Writer, s Set, v View, f Format) error {
	var payload any
	switch v {
	case ViewFlat:
		items := s.Items
		if items == nil {
			items = []Item{}
		}
		payload = items
	case ViewRaw:
		payload = s
	case ViewTree:
		tree := s.Tree()
		if tree == nil {
			tree = []Node{}
		}
		payload = tree
	default:
		return fmt.Errorf("unknown export view %q", v)
	}

	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(payload); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown export format %q", f)
}

package jira

import (
	"encoding/json"
	"strings"
)

// adfNode is a node of an Atlassian Document Format tree.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// PlainText flattens a description to text. The description may be a plain
// JSON string or a document tree; text of sibling nodes is joined by spaces.
func PlainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	return flatten(doc)
}

func flatten(n adfNode) string {
	if len(n.Content) == 0 {
		return ""
	}
	parts := make([]string, len(n.Content))
	for i, c := range n.Content {
		if c.Text != "" {
			parts[i] = c.Text
			continue
		}
		parts[i] = flatten(c)
	}
	return strings.Join(parts, " ")
}

// Package backlog turns requirement text into a typed Epic, Story, Task and
// Sub-task backlog and arranges it as a tree for display and export.
package backlog

import "strings"

// Type is the level of a backlog item.
type Type string

const (
	TypeEpic    Type = "Epic"
	TypeStory   Type = "Story"
	TypeTask    Type = "Task"
	TypeSubtask Type = "Sub-task"
)

// Priorities recognised on generated items. An empty priority means unspecified.
const (
	PriorityHighest = "Highest"
	PriorityHigh    = "High"
	PriorityMedium  = "Medium"
	PriorityLow     = "Low"
)

// Item is one generated backlog entry. Parent holds the ID of the parent
// item; ParentSummary is the summary the model named as parent.
type Item struct {
	ID            string   `json:"id" yaml:"id"`
	Type          Type     `json:"type" yaml:"type"`
	Summary       string   `json:"summary" yaml:"summary"`
	Description   string   `json:"description" yaml:"description"`
	Priority      string   `json:"priority,omitempty" yaml:"priority,omitempty"`
	Labels        []string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Parent        string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	ParentSummary string   `json:"parent_summary,omitempty" yaml:"parent_summary,omitempty"`
}

// ParentType returns the type an item of type t must hang under.
// Epics have no parent type.
func (t Type) ParentType() (Type, bool) {
	switch t {
	case TypeStory:
		return TypeEpic, true
	case TypeTask:
		return TypeStory, true
	case TypeSubtask:
		return TypeTask, true
	}
	return "", false
}

// ParseType maps loosely written type names onto a Type.
func ParseType(s string) (Type, bool) {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.NewReplacer("-", "", "_", "", " ", "").Replace(k)
	switch k {
	case "epic":
		return TypeEpic, true
	case "story", "userstory":
		return TypeStory, true
	case "task":
		return TypeTask, true
	case "subtask":
		return TypeSubtask, true
	}
	return "", false
}

// NormalizePriority returns the canonical priority or "" when unrecognised.
func NormalizePriority(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "highest", "critical", "blocker":
		return PriorityHighest
	case "high":
		return PriorityHigh
	case "medium", "normal":
		return PriorityMedium
	case "low", "lowest", "minor":
		return PriorityLow
	}
	return ""
}

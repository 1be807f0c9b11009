package jira

import "encoding/json"

// AuthState is the OAuth session held in the auth cookie.
// ExpiresAt is a unix timestamp in milliseconds.
type AuthState struct {
	IsAuthenticated   bool   `json:"isAuthenticated"`
	AccessToken       string `json:"accessToken,omitempty"`
	RefreshToken      string `json:"refreshToken,omitempty"`
	ExpiresAt         int64  `json:"expiresAt,omitempty"`
	CloudID           string `json:"cloudId,omitempty"`
	SelectedProjectID string `json:"selectedProjectId,omitempty"`
}

// State is where a browser is in the OAuth flow.
type State int

const (
	StateUnauthenticated State = iota
	StatePendingCallback
	StateAuthenticated
	// StateExpired means the access token lapsed; a refresh may revive it.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StatePendingCallback:
		return "pending_callback"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// Resource is a site the token grants access to.
type Resource struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Scopes []string `json:"scopes,omitempty"`
}

// Project is a tracker project.
type Project struct {
	ID             string `json:"id"`
	Key            string `json:"key"`
	Name           string `json:"name"`
	ProjectTypeKey string `json:"projectTypeKey,omitempty"`
}

// Issue is a tracker issue with the fields reqai displays.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

type IssueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description,omitempty"`
	IssueType   *NamedField     `json:"issuetype,omitempty"`
	Status      *NamedField     `json:"status,omitempty"`
	Priority    *NamedField     `json:"priority,omitempty"`
	Created     string          `json:"created,omitempty"`
	Updated     string          `json:"updated,omitempty"`
}

type NamedField struct {
	Name string `json:"name"`
}

// IssueSummary is an Issue flattened for API consumers.
type IssueSummary struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Type        string `json:"type,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Updated     string `json:"updated,omitempty"`
}

// Summarize flattens the issue, converting its description to plain text.
func (i Issue) Summarize() IssueSummary {
	return IssueSummary{
		ID:          i.ID,
		Key:         i.Key,
		Summary:     i.Fields.Summary,
		Description: PlainText(i.Fields.Description),
		Type:        name(i.Fields.IssueType),
		Status:      name(i.Fields.Status),
		Priority:    name(i.Fields.Priority),
		Updated:     i.Fields.Updated,
	}
}

func name(f *NamedField) string {
	if f == nil {
		return ""
	}
	return f.Name
}

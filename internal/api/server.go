package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/reqai/internal/backlog"
	"github.com/kalambet/reqai/internal/conversation"
	"github.com/kalambet/reqai/internal/extraction"
	"github.com/kalambet/reqai/internal/jira"
	"github.com/kalambet/reqai/internal/llm"
	"github.com/kalambet/reqai/internal/pipeline"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxUploadBodySize = 32 << 20 // 32MB
const multipartMemory = 8 << 20    // 8MB

// BacklogService generates backlogs and returns the latest one.
type BacklogService interface {
	GenerateBacklog(ctx context.Context, text string) (backlog.Set, error)
	LatestBacklog() (backlog.Set, error)
}

// Assistant runs chat turns and backlog generation for the HTTP layer.
type Assistant interface {
	BacklogService
	Send(ctx context.Context, sess *conversation.Session, text string) (llm.Reply, error)
	Upload(ctx context.Context, sess *conversation.Session, uploads []extraction.Upload) (pipeline.UploadResult, error)
}

// ResultsLoader returns the latest extraction snapshot.
type ResultsLoader interface {
	Load() (extraction.Result, error)
}

// Deps holds everything the HTTP handlers need. Tokens and Tracker are both
// nil when the tracker integration is not configured.
type Deps struct {
	Assistant Assistant
	Extractor pipeline.Extractor
	Results   ResultsLoader
	Sessions  *conversation.SessionStore
	Tokens    *jira.TokenManager
	Tracker   *jira.Client

	// Token enables bearer auth on /api/* when non-empty.
	Token         string
	SecureCookies bool

	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// NewHandler returns the reqai HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		// The OAuth redirect legs are browser navigations and carry no bearer token.
		r.Get("/jira/login", handleJiraLogin(deps))
		r.Get("/jira/callback", handleJiraCallback(deps))

		r.Group(func(r chi.Router) {
			if deps.Token != "" {
				r.Use(BearerAuth(deps.Token))
			}

			r.Post("/extract-text", handleExtractText(deps))
			r.Get("/extraction-results", handleExtractionResults(deps))

			r.Post("/chat", handleChat(deps))
			r.Get("/chat", handleChatHistory(deps))
			r.Delete("/chat", handleChatReset(deps))
			r.Post("/chat/upload", handleChatUpload(deps))

			r.Post("/backlog", handleBacklog(deps))
			r.Get("/backlog/export", handleBacklogExport(deps))

			r.Get("/jira/auth-data", handleJiraAuthData(deps))
			r.Post("/jira/logout", handleJiraLogout(deps))
			r.Get("/jira/projects", handleJiraProjects(deps))
			r.Post("/jira/project", handleJiraSelectProject(deps))
			r.Get("/jira/issues", handleJiraIssues(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

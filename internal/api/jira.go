package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kalambet/reqai/internal/jira"
)

type authDataResponse struct {
	Enabled           bool   `json:"enabled"`
	IsAuthenticated   bool   `json:"isAuthenticated"`
	State             string `json:"state"`
	ExpiresAt         int64  `json:"expiresAt,omitempty"`
	CloudID           string `json:"cloudId,omitempty"`
	SelectedProjectID string `json:"selectedProjectId,omitempty"`
}

type selectProjectRequest struct {
	ProjectID string `json:"projectId"`
}

type projectsResponse struct {
	CloudID           string         `json:"cloudId"`
	SelectedProjectID string         `json:"selectedProjectId,omitempty"`
	Projects          []jira.Project `json:"projects"`
}

type issuesResponse struct {
	Project jira.Project        `json:"project"`
	Issues  []jira.IssueSummary `json:"issues"`
}

// jiraEnabled writes 503 and reports false when the tracker is not configured.
func jiraEnabled(deps Deps, w http.ResponseWriter) bool {
	if deps.Tokens == nil || deps.Tracker == nil {
		httpError(w, http.StatusServiceUnavailable, "api_error", "jira integration is not configured")
		return false
	}
	return true
}

func handleJiraLogin(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !jiraEnabled(deps, w) {
			return
		}
		authURL, err := deps.Tokens.BeginLogin(w)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "starting login: %v", err)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

func handleJiraCallback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !jiraEnabled(deps, w) {
			return
		}
		if _, err := deps.Tokens.CompleteCallback(w, r); err != nil {
			reason := jira.ReasonServerError
			var cbErr *jira.CallbackError
			if errors.As(err, &cbErr) {
				reason = cbErr.Reason
			}
			slog.Warn("jira oauth callback rejected", "reason", reason, "error", err)
			http.Redirect(w, r, deps.Tokens.ErrorURL(reason), http.StatusFound)
			return
		}
		http.Redirect(w, r, deps.Tokens.SuccessURL(), http.StatusFound)
	}
}

func handleJiraAuthData(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Tokens == nil {
			writeJSON(w, http.StatusOK, authDataResponse{State: jira.StateUnauthenticated.String()})
			return
		}

		st, state := deps.Tokens.Current(r)
		if state == jira.StateExpired {
			refreshed, err := deps.Tokens.Refresh(r.Context(), w, st)
			if err != nil {
				st, state = jira.AuthState{}, jira.StateUnauthenticated
			} else {
				st, state = refreshed, jira.StateAuthenticated
			}
		}

		writeJSON(w, http.StatusOK, authDataResponse{
			Enabled:           true,
			IsAuthenticated:   state == jira.StateAuthenticated,
			State:             state.String(),
			ExpiresAt:         st.ExpiresAt,
			CloudID:           st.CloudID,
			SelectedProjectID: st.SelectedProjectID,
		})
	}
}

func handleJiraLogout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !jiraEnabled(deps, w) {
			return
		}
		deps.Tokens.Logout(w)
		writeJSON(w, http.StatusOK, map[string]bool{"isAuthenticated": false})
	}
}

func handleJiraProjects(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !jiraEnabled(deps, w) {
			return
		}
		st, ok := authorizeTenant(deps, w, r)
		if !ok {
			return
		}

		projects, err := deps.Tracker.SearchProjects(r.Context(), st.AccessToken, st.CloudID)
		if err != nil {
			writeTrackerError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, projectsResponse{
			CloudID:           st.CloudID,
			SelectedProjectID: st.SelectedProjectID,
			Projects:          projects,
		})
	}
}

func handleJiraSelectProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !jiraEnabled(deps, w) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req selectProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.ProjectID = strings.TrimSpace(req.ProjectID)
		if req.ProjectID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "projectId is required")
			return
		}

		st, err := deps.Tokens.Authorize(r.Context(), w, r)
		if err != nil {
			writeTrackerError(w, err)
			return
		}
		st, err = deps.Tokens.SelectProject(w, st, req.ProjectID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving project selection: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, authDataResponse{
			Enabled:           true,
			IsAuthenticated:   true,
			State:             jira.StateAuthenticated.String(),
			ExpiresAt:         st.ExpiresAt,
			CloudID:           st.CloudID,
			SelectedProjectID: st.SelectedProjectID,
		})
	}
}

func handleJiraIssues(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !jiraEnabled(deps, w) {
			return
		}
		st, ok := authorizeTenant(deps, w, r)
		if !ok {
			return
		}
		if st.SelectedProjectID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no project selected")
			return
		}

		project, found, err := deps.Tracker.FindProject(r.Context(), st.AccessToken, st.CloudID, st.SelectedProjectID)
		if err != nil {
			writeTrackerError(w, err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found_error", "selected project %s is no longer accessible", st.SelectedProjectID)
			return
		}

		issues, err := deps.Tracker.SearchIssues(r.Context(), st.AccessToken, st.CloudID, project.Key)
		if err != nil {
			writeTrackerError(w, err)
			return
		}

		summaries := make([]jira.IssueSummary, len(issues))
		for i, iss := range issues {
			summaries[i] = iss.Summarize()
		}
		writeJSON(w, http.StatusOK, issuesResponse{Project: project, Issues: summaries})
	}
}

// authorizeTenant returns an authenticated state with a resolved site, or
// writes the error response and reports false.
func authorizeTenant(deps Deps, w http.ResponseWriter, r *http.Request) (jira.AuthState, bool) {
	st, err := deps.Tokens.Authorize(r.Context(), w, r)
	if err != nil {
		writeTrackerError(w, err)
		return jira.AuthState{}, false
	}
	st, err = deps.Tokens.ResolveTenant(r.Context(), w, st)
	if err != nil {
		writeTrackerError(w, err)
		return jira.AuthState{}, false
	}
	return st, true
}

func writeTrackerError(w http.ResponseWriter, err error) {
	var apiErr *jira.APIError
	switch {
	case errors.Is(err, jira.ErrNotAuthenticated):
		httpError(w, http.StatusUnauthorized, "authentication_error", "%v", err)
	case errors.Is(err, jira.ErrNoTenant):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized:
		httpError(w, http.StatusUnauthorized, "authentication_error", "%v", err)
	default:
		httpError(w, http.StatusBadGateway, "api_error", "jira request failed: %v", err)
	}
}

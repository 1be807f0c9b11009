package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kalambet/reqai/internal/conversation"
	"github.com/kalambet/reqai/internal/extraction"
	"github.com/kalambet/reqai/internal/llm"
	"github.com/kalambet/reqai/internal/pipeline"
)

// SessionCookie identifies the caller's conversation.
const SessionCookie = "reqai_session"

const sessionCookieMaxAge = 7 * 24 * 60 * 60

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"sessionId"`
	Reply     string `json:"reply"`
	Fallback  bool   `json:"fallback"`
}

type uploadResponse struct {
	SessionID string            `json:"sessionId"`
	Results   extraction.Result `json:"results"`
	Warning   string            `json:"warning,omitempty"`
	Digest    string            `json:"digest"`
	Reply     string            `json:"reply"`
	Fallback  bool              `json:"fallback"`
}

type historyResponse struct {
	SessionID string        `json:"sessionId"`
	Messages  []llm.Message `json:"messages"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		sess := session(deps, w, r)
		reply, err := deps.Assistant.Send(r.Context(), sess, req.Message)
		if err != nil {
			writeTurnError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, chatResponse{SessionID: sess.ID, Reply: reply.Text, Fallback: reply.Fallback})
	}
}

func handleChatUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploads, err := readUploads(w, r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if len(uploads) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "No files provided")
			return
		}

		sess := session(deps, w, r)
		res, err := deps.Assistant.Upload(r.Context(), sess, uploads)
		if err != nil {
			writeTurnError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, uploadResponse{
			SessionID: sess.ID,
			Results:   res.Extraction.Results,
			Warning:   res.Extraction.Warning,
			Digest:    res.Digest,
			Reply:     res.Reply.Text,
			Fallback:  res.Reply.Fallback,
		})
	}
}

func handleChatHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := existingSession(deps, r)
		if !ok {
			writeJSON(w, http.StatusOK, historyResponse{Messages: conversation.InitialHistory()})
			return
		}
		writeJSON(w, http.StatusOK, historyResponse{SessionID: sess.ID, Messages: sess.History()})
	}
}

func handleChatReset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := existingSession(deps, r)
		if !ok {
			writeJSON(w, http.StatusOK, historyResponse{Messages: conversation.InitialHistory()})
			return
		}
		release, err := sess.BeginTurn()
		if err != nil {
			writeTurnError(w, err)
			return
		}
		sess.Reset()
		release()
		writeJSON(w, http.StatusOK, historyResponse{SessionID: sess.ID, Messages: sess.History()})
	}
}

// existingSession returns the session named by the request cookie without
// creating one.
func existingSession(deps Deps, r *http.Request) (*conversation.Session, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, false
	}
	return deps.Sessions.Get(c.Value)
}

// session returns the caller's session for a new turn, issuing a new cookie
// when the request carries none or an unknown id.
func session(deps Deps, w http.ResponseWriter, r *http.Request) *conversation.Session {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}
	sess := deps.Sessions.GetOrCreate(id)
	if sess.ID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    sess.ID,
			Path:     "/",
			MaxAge:   sessionCookieMaxAge,
			HttpOnly: true,
			Secure:   deps.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess
}

func writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrTurnInProgress):
		httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
	case errors.Is(err, pipeline.ErrEmptyMessage), errors.Is(err, conversation.ErrEmptyConversation):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, extraction.ErrEmptyBatch), errors.Is(err, extraction.ErrInvalidName):
		writeExtractionError(w, err)
	case errors.Is(err, llm.ErrUpstream):
		httpError(w, http.StatusBadGateway, "api_error", "upstream error: %v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

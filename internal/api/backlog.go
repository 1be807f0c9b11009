package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kalambet/reqai/internal/backlog"
	"github.com/kalambet/reqai/internal/llm"
	"github.com/kalambet/reqai/internal/pipeline"
)

type backlogRequest struct {
	Text string `json:"text"`
}

type backlogResponse struct {
	backlog.Set
	Tree   []backlog.Node `json:"tree"`
	Counts backlog.Counts `json:"counts"`
}

func handleBacklog(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req backlogRequest
		// An empty body means "use the latest extraction".
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		set, err := deps.Assistant.GenerateBacklog(r.Context(), req.Text)
		if err != nil {
			switch {
			case errors.Is(err, backlog.ErrNoInput):
				httpError(w, http.StatusBadRequest, "invalid_request_error",
					"no requirement text provided and no extraction results available")
			case errors.Is(err, backlog.ErrMalformedOutput), errors.Is(err, llm.ErrUpstream):
				httpError(w, http.StatusBadGateway, "api_error", "backlog generation failed: %v", err)
			default:
				httpError(w, http.StatusInternalServerError, "api_error", "backlog generation failed: %v", err)
			}
			return
		}

		tree := set.Tree()
		if tree == nil {
			tree = []backlog.Node{}
		}
		writeJSON(w, http.StatusOK, backlogResponse{Set: set, Tree: tree, Counts: set.Counts()})
	}
}

func handleBacklogExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		view, err := backlog.ParseView(q.Get("view"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		format, err := backlog.ParseFormat(q.Get("format"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		set, err := deps.Assistant.LatestBacklog()
		if errors.Is(err, pipeline.ErrNoBacklog) {
			httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		var buf bytes.Buffer
		if err := backlog.Export(&buf, set, view, format); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "export failed: %v", err)
			return
		}

		name := backlog.FileName(view, format, deps.now())
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		w.Write(buf.Bytes())
	}
}

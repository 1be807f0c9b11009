package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kalambet/reqai/internal/extraction"
	"github.com/kalambet/reqai/internal/results"
)

type extractResponse struct {
	Results extraction.Result `json:"results"`
	Warning string            `json:"warning,omitempty"`
}

func handleExtractText(deps Deps) http.HandlerFunc {
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

		out, err := deps.Extractor.Extract(r.Context(), uploads)
		if err != nil {
			writeExtractionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, extractResponse{Results: out.Results, Warning: out.Warning})
	}
}

func handleExtractionResults(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Results.Load()
		if err != nil {
			var perr *results.ParseError
			switch {
			case errors.Is(err, results.ErrNotFound):
				httpError(w, http.StatusNotFound, "not_found_error",
					"No extraction has been performed yet or the file has been moved.")
			case errors.As(err, &perr):
				httpError(w, http.StatusInternalServerError, "api_error",
					"The file exists but could not be parsed: %v", perr.Err)
			default:
				httpError(w, http.StatusInternalServerError, "api_error", "failed to access extraction results: %v", err)
			}
			return
		}

		writeJSON(w, http.StatusOK, extractResponse{Results: res})
	}
}

func writeExtractionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, extraction.ErrEmptyBatch):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "No files provided")
	case errors.Is(err, extraction.ErrInvalidName):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "processing files: %v", err)
	}
}

// readUploads reads every part of the multipart field "files".
func readUploads(w http.ResponseWriter, r *http.Request) ([]extraction.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	uploads := make([]extraction.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
		}
		uploads = append(uploads, extraction.Upload{Name: fh.Filename, Data: data})
	}
	return uploads, nil
}

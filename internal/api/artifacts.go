package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/resummate/internal/extract"
	"github.com/kalambet/resummate/internal/storage"
)

const maxUploadSize = 10 << 20 // 10MB

// ArtifactResponse describes a stored artifact version.
type ArtifactResponse struct {
	ThreadID   string    `json:"thread_id"`
	Kind       string    `json:"kind"`
	Version    int       `json:"version"`
	FileName   string    `json:"file_name,omitempty"`
	Characters int       `json:"characters"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

// handleUploadArtifact accepts a multipart upload (field "file"), extracts
// its text, and stores it as the thread's next artifact version.
func handleUploadArtifact(deps Deps, kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field 'file' is required: %v", err)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}

		text, err := extract.Text(header.Filename, data)
		switch {
		case errors.Is(err, extract.ErrUnsupportedFormat):
			httpError(w, http.StatusBadRequest, "unsupported_format", "%v (supported: pdf, docx, txt, md)", err)
			return
		case errors.Is(err, extract.ErrExtractionFailed):
			httpError(w, http.StatusUnprocessableEntity, "extraction_failed", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "extracting text: %v", err)
			return
		}

		version, err := putArtifact(deps.Store, threadID, kind, header.Filename, text)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "storing artifact: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ArtifactResponse{
			ThreadID:   threadID,
			Kind:       kind,
			Version:    version,
			FileName:   header.Filename,
			Characters: len(text),
		})
	}
}

// handleJobDescriptionURL ingests a job description by fetching a posting
// URL instead of uploading a file.
func handleJobDescriptionURL(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		text, err := deps.Fetcher.JobPosting(r.Context(), req.URL)
		if err != nil {
			httpError(w, http.StatusBadGateway, "fetch_failed", "fetching job posting: %v", err)
			return
		}

		version, err := putArtifact(deps.Store, threadID, storage.KindJobDescription, req.URL, text)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "storing artifact: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ArtifactResponse{
			ThreadID:   threadID,
			Kind:       storage.KindJobDescription,
			Version:    version,
			FileName:   req.URL,
			Characters: len(text),
		})
	}
}

func putArtifact(store *storage.Store, threadID, kind, fileName, text string) (int, error) {
	if err := store.EnsureThread(threadID, ""); err != nil {
		return 0, err
	}
	return store.PutArtifact(threadID, kind, fileName, text)
}

func handleGetArtifact(deps Deps, kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")

		a, err := deps.Store.CurrentArtifact(threadID, kind)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no %s uploaded for this thread", kind)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading artifact: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"thread_id":  threadID,
			"kind":       a.Kind,
			"version":    a.Version,
			"file_name":  a.FileName,
			"text":       a.Text,
			"created_at": a.CreatedAt,
		})
	}
}

func handleDeleteArtifact(deps Deps, kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")

		if _, err := deps.Store.CurrentArtifact(threadID, kind); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no %s uploaded for this thread", kind)
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading artifact: %v", err)
			return
		}

		if err := deps.Store.DeleteArtifacts(threadID, kind); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting artifact: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

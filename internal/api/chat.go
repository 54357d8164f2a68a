// Package api exposes the coaching service over HTTP: the chat turn
// endpoint with SSE streaming, thread history, and artifact management.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/resummate/internal/extract"
	"github.com/kalambet/resummate/internal/storage"
	"github.com/kalambet/resummate/internal/turn"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TurnRunner starts coaching turns. Satisfied by *turn.Orchestrator.
type TurnRunner interface {
	Run(ctx context.Context, threadID, userText string) (*turn.Stream, error)
}

// Deps holds the handler's collaborators.
type Deps struct {
	Store   *storage.Store
	Turns   TurnRunner
	Fetcher *extract.Fetcher
	Token   string // optional; empty disables bearer auth
}

// NewHandler returns the service's HTTP handler.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/api", func(api chi.Router) {
		if deps.Token != "" {
			api.Use(BearerAuth(deps.Token))
		}

		api.Post("/chat", handleChat(deps))

		api.Get("/threads/{id}/messages", handleHistory(deps))
		api.Delete("/threads/{id}", handleDeleteThread(deps))

		api.Post("/threads/{id}/resume", handleUploadArtifact(deps, storage.KindResume))
		api.Get("/threads/{id}/resume", handleGetArtifact(deps, storage.KindResume))
		api.Delete("/threads/{id}/resume", handleDeleteArtifact(deps, storage.KindResume))

		api.Post("/threads/{id}/job-description", handleUploadArtifact(deps, storage.KindJobDescription))
		api.Post("/threads/{id}/job-description/url", handleJobDescriptionURL(deps))
		api.Get("/threads/{id}/job-description", handleGetArtifact(deps, storage.KindJobDescription))
		api.Delete("/threads/{id}/job-description", handleDeleteArtifact(deps, storage.KindJobDescription))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// ChatRequest is the body of POST /api/chat. An empty thread_id starts a
// new thread.
type ChatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
	Stream   *bool  `json:"stream"` // default true
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ThreadID == "" {
			req.ThreadID = uuid.NewString()
		}

		stream, err := deps.Turns.Run(r.Context(), req.ThreadID, req.Message)
		switch {
		case errors.Is(err, turn.ErrInvalidInput):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		case errors.Is(err, turn.ErrThreadBusy):
			httpError(w, http.StatusConflict, turn.KindThreadBusy, "a turn is already running for this thread")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "starting turn: %v", err)
			return
		}

		w.Header().Set("X-Thread-ID", req.ThreadID)
		if req.Stream == nil || *req.Stream {
			streamFrames(w, stream)
			return
		}

		text, meta, runErr := stream.Materialize()
		resp := map[string]any{
			"thread_id": req.ThreadID,
			"reply":     text,
		}
		if len(meta.ToolCalls) > 0 {
			names := make([]string, len(meta.ToolCalls))
			for i, c := range meta.ToolCalls {
				names[i] = c.Name
			}
			resp["tools_used"] = names
		}
		if runErr != nil {
			resp["error"] = runErr.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// streamFrames relays turn frames as server-sent events. Each event's data
// is one JSON frame; the stream ends after the terminal done or error
// frame.
func streamFrames(w http.ResponseWriter, stream *turn.Stream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for f := range stream.Frames() {
		payload, err := json.Marshal(f)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

// HistoryMessage is the UI-facing shape of one thread message.
type HistoryMessage struct {
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content,omitempty"`
	ToolsUsed []string  `json:"tools_used,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.Thread(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "thread not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading thread: %v", err)
			return
		}

		msgs, err := deps.Store.Messages(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading history: %v", err)
			return
		}

		limit := parseIntParam(r, "limit", 0, 0)
		history := shapeHistory(msgs)
		if limit > 0 && len(history) > limit {
			history = history[len(history)-limit:]
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(history)
	}
}

// shapeHistory folds the raw message log into what the UI renders: user
// and assistant text, with tool activity summarized onto the assistant
// message that follows it.
func shapeHistory(msgs []storage.Message) []HistoryMessage {
	history := []HistoryMessage{}
	var pendingTools []string
	for _, m := range msgs {
		switch m.Role {
		case storage.RoleUser:
			history = append(history, HistoryMessage{
				Seq: m.Seq, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt,
			})
		case storage.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				for _, c := range m.ToolCalls {
					pendingTools = append(pendingTools, c.Name)
				}
				continue
			}
			history = append(history, HistoryMessage{
				Seq: m.Seq, Role: m.Role, Content: m.Content,
				ToolsUsed: pendingTools, CreatedAt: m.CreatedAt,
			})
			pendingTools = nil
		}
	}
	return history
}

func handleDeleteThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteThread(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "thread not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting thread: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
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

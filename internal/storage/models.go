package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by AppendMessage when the expected prior sequence
// index does not match the thread's current tail. It signals a concurrent
// writer; the caller decides whether to re-read and retry.
var ErrConflict = errors.New("append conflict")

// Message roles. A thread is an append-only sequence of these.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Artifact kinds. At most one current artifact per kind per thread.
const (
	KindResume         = "resume"
	KindJobDescription = "job_description"
)

type Thread struct {
	ID        string
	UserRef   string
	CreatedAt time.Time
}

// Message is one entry in a thread's conversation history. Assistant
// messages may carry ToolCalls; tool messages carry exactly one ToolResult
// answering a prior call.
type Message struct {
	ThreadID   string
	Seq        int
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolResult *ToolResult
	CreatedAt  time.Time
}

// ToolCall is a structured tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the outcome of executing one ToolCall. CallID matches the
// originating call's ID.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Content string `json:"content"`
}

// Artifact is normalized text extracted from an uploaded resume or job
// description. New uploads of the same kind supersede prior versions; the
// old rows are retained.
type Artifact struct {
	ID        string
	ThreadID  string
	Kind      string
	Version   int
	FileName  string
	Text      string
	CreatedAt time.Time
}

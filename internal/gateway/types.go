package gateway

import "encoding/json"

// ChatMessage is one entry in the model input, in the OpenAI-compatible
// chat-completions wire format.
type ChatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []WireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// WireToolCall is a tool invocation as it appears on the wire.
type WireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function WireFunction `json:"function"`
}

// WireFunction carries the function name and raw JSON arguments.
type WireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDeclaration advertises one callable tool to the model.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a fully assembled tool invocation returned by Generate.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// GenerationConfig holds per-call generation options. Zero values fall back
// to the provider's defaults (temperature 0 is sent explicitly only when
// TemperatureSet is true).
type GenerationConfig struct {
	Model           string
	Temperature     float64
	TemperatureSet  bool
	MaxOutputTokens int
}

// chatRequest is the upstream request payload.
type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []ChatMessage   `json:"messages"`
	Tools       []wireTool      `json:"tools,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream"`
}

type wireTool struct {
	Type     string          `json:"type"`
	Function ToolDeclaration `json:"function"`
}

// streamChunk is one SSE data event from the upstream stream.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content"`
			ToolCalls []toolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// toolCallDelta is a fragment of a tool call; arguments arrive in pieces
// keyed by index and are concatenated in order.
type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

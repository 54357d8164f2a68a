package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	streamingTimeout = 300 * time.Second
)

// ErrUpstream marks transport-level failures (connection errors, 5xx, 429).
// The orchestrator treats these as retryable; all other errors are not.
var ErrUpstream = errors.New("upstream unavailable")

// Result is the outcome of one Generate call: either a stream of text
// deltas or a batch of tool calls, never both. The gateway classifies on
// the first meaningful signal from the provider and discards anything the
// provider interleaves after that.
type Result struct {
	ToolCalls []ToolCall
	Stream    *DeltaStream
}

// DeltaStream is a lazy, cancellable sequence of text deltas. Consume
// Deltas() until it closes, then check Err(); Close aborts the upstream
// call.
type DeltaStream struct {
	ch     chan string
	err    error // written before ch is closed
	cancel context.CancelFunc
}

// Deltas returns the channel of text fragments. It is closed when the
// upstream stream ends or fails.
func (s *DeltaStream) Deltas() <-chan string { return s.ch }

// Err reports how the stream ended. Only valid after Deltas() is closed.
func (s *DeltaStream) Err() error { return s.err }

// Close aborts the in-flight upstream call. Safe to call at any time.
func (s *DeltaStream) Close() { s.cancel() }

// Client talks to an OpenAI-compatible chat-completions endpoint. It makes
// a single attempt per Generate call; retry policy lives with the caller.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a gateway client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		// No client-level timeout: streaming responses stay open long
		// past any sane request deadline. Per-call contexts bound it.
		httpClient: &http.Client{},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for
// testing or alternative providers).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Generate sends one streamed chat-completion request. It blocks until the
// provider's first meaningful signal, then returns either a DeltaStream
// (text began) or the fully collected tool-call batch. The returned error
// wraps ErrUpstream for transport-level failures.
func (c *Client) Generate(ctx context.Context, messages []ChatMessage, tools []ToolDeclaration, cfg GenerationConfig) (*Result, error) {
	req := chatRequest{
		Model:     cfg.Model,
		Messages:  messages,
		MaxTokens: cfg.MaxOutputTokens,
		Stream:    true,
	}
	if cfg.TemperatureSet {
		t := cfg.Temperature
		req.Temperature = &t
	}
	for _, d := range tools {
		req.Tools = append(req.Tools, wireTool{Type: "function", Function: d})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, streamingTimeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w: %w", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("status %d: %s: %w", resp.StatusCode, string(respBody), ErrUpstream)
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return c.classify(resp.Body, cancel)
}

// classify reads the SSE stream until the first text delta or tool-call
// fragment. Tool-call first: the remainder is drained synchronously and the
// assembled batch returned. Text first: a DeltaStream is returned that
// replays the first delta and then relays live.
func (c *Client) classify(body io.ReadCloser, cancel context.CancelFunc) (*Result, error) {
	events := newEventReader(body)

	for {
		chunk, err := events.next()
		if err == io.EOF {
			// Stream ended without producing anything: treat as an empty
			// text answer rather than an error.
			body.Close()
			cancel()
			s := &DeltaStream{ch: make(chan string), cancel: func() {}}
			close(s.ch)
			return &Result{Stream: s}, nil
		}
		if err != nil {
			body.Close()
			cancel()
			return nil, fmt.Errorf("reading stream: %w: %w", ErrUpstream, err)
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if len(delta.ToolCalls) > 0 {
			calls, err := drainToolCalls(events, delta.ToolCalls)
			body.Close()
			cancel()
			if err != nil {
				return nil, err
			}
			return &Result{ToolCalls: calls}, nil
		}

		if delta.Content != "" {
			s := &DeltaStream{ch: make(chan string, 16), cancel: cancel}
			go relayText(s, events, body, delta.Content)
			return &Result{Stream: s}, nil
		}
	}
}

// relayText forwards text deltas to the stream channel until the upstream
// ends. Tool-call fragments arriving after text began violate the output
// contract and are dropped with a warning.
func relayText(s *DeltaStream, events *eventReader, body io.ReadCloser, first string) {
	defer body.Close()
	defer s.cancel()
	defer close(s.ch)

	s.ch <- first
	for {
		chunk, err := events.next()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.err = fmt.Errorf("reading stream: %w: %w", ErrUpstream, err)
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if len(delta.ToolCalls) > 0 {
			slog.Warn("provider interleaved tool calls after text; dropping", "count", len(delta.ToolCalls))
			continue
		}
		if delta.Content != "" {
			s.ch <- delta.Content
		}
	}
}

// drainToolCalls consumes the rest of the stream, assembling tool-call
// fragments into complete calls. Fragments are keyed by index; argument
// pieces concatenate in arrival order.
func drainToolCalls(events *eventReader, initial []toolCallDelta) ([]ToolCall, error) {
	type partial struct {
		id   string
		name string
		args strings.Builder
	}
	parts := make(map[int]*partial)

	merge := func(deltas []toolCallDelta) {
		for _, d := range deltas {
			p, ok := parts[d.Index]
			if !ok {
				p = &partial{}
				parts[d.Index] = p
			}
			if d.ID != "" {
				p.id = d.ID
			}
			if d.Function.Name != "" {
				p.name = d.Function.Name
			}
			p.args.WriteString(d.Function.Arguments)
		}
	}

	merge(initial)
	for {
		chunk, err := events.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tool calls: %w: %w", ErrUpstream, err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			slog.Warn("provider interleaved text with tool calls; dropping", "len", len(delta.Content))
		}
		merge(delta.ToolCalls)
	}

	indexes := make([]int, 0, len(parts))
	for i := range parts {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]ToolCall, 0, len(parts))
	for _, i := range indexes {
		p := parts[i]
		args := p.args.String()
		if args == "" {
			args = "{}"
		}
		calls = append(calls, ToolCall{ID: p.id, Name: p.name, Arguments: json.RawMessage(args)})
	}
	return calls, nil
}

// eventReader parses "data:" lines from an SSE body into stream chunks.
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &eventReader{scanner: sc}
}

// next returns the next parsed chunk, io.EOF at "[DONE]" or stream end.
func (e *eventReader) next() (streamChunk, error) {
	for e.scanner.Scan() {
		line := strings.TrimSpace(e.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return streamChunk{}, io.EOF
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Debug("skipping malformed stream event", "error", err)
			continue
		}
		return chunk, nil
	}
	if err := e.scanner.Err(); err != nil {
		return streamChunk{}, err
	}
	return streamChunk{}, io.EOF
}

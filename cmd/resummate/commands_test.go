package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/resummate/internal/config"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	ContentType string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestChatNonStreamingRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/chat": `{"thread_id":"t1","reply":"Lead with impact, not duties."}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/api/chat", map[string]any{
		"thread_id": "t1",
		"message":   "review my summary",
		"stream":    false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out struct {
		ThreadID string `json:"thread_id"`
		Reply    string `json:"reply"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if out.Reply != "Lead with impact, not duties." {
		t.Errorf("reply = %q", out.Reply)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["message"] != "review my summary" {
		t.Errorf("body.message = %v", body["message"])
	}
	if body["stream"] != false {
		t.Errorf("body.stream = %v, want false", body["stream"])
	}
}

func TestRelayChatStream(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"type":"delta","text":"Your summary "}`,
		"",
		`data: {"type":"delta","text":"reads well."}`,
		"",
		`data: {"type":"done"}`,
		"",
	}, "\n")

	if err := relayChatStream(strings.NewReader(stream)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRelayChatStream_ErrorFrame(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"type":"delta","text":"partial"}`,
		"",
		`data: {"type":"error","kind":"upstream_unavailable","message":"model gateway unavailable"}`,
		"",
	}, "\n")

	err := relayChatStream(strings.NewReader(stream))
	if err == nil {
		t.Fatal("expected error from error frame")
	}
	if !strings.Contains(err.Error(), "upstream_unavailable") {
		t.Errorf("error = %q, want it to name the kind", err.Error())
	}
}

func TestRelayChatStream_Truncated(t *testing.T) {
	stream := `data: {"type":"delta","text":"partial"}` + "\n"

	err := relayChatStream(strings.NewReader(stream))
	if err == nil {
		t.Fatal("expected error for stream without terminal frame")
	}
	if !strings.Contains(err.Error(), "terminal") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestHistoryRequestPath(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/threads/t1/messages": `[{"seq":1,"role":"user","content":"hi"},{"seq":2,"role":"assistant","content":"hello","tools_used":["score_ats_alignment"]}]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/api/threads/t1/messages?limit=10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var messages []struct {
		Role      string   `json:"role"`
		Content   string   `json:"content"`
		ToolsUsed []string `json:"tools_used"`
	}
	if err := decodeJSON(resp, &messages); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[1].ToolsUsed[0] != "score_ats_alignment" {
		t.Errorf("tools_used = %v", messages[1].ToolsUsed)
	}
	if !strings.Contains(ts.requests[0].Path, "limit=10") {
		t.Errorf("path = %q, want limit query", ts.requests[0].Path)
	}
}

func TestUploadMultipart(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/threads/t1/resume": `{"thread_id":"t1","kind":"resume","version":1,"file_name":"cv.txt","characters":42}`,
	})

	client := ts.client()
	resp, err := client.upload(ctx, "/api/threads/t1/resume", "cv.txt", []byte("Jane Doe\nLed the platform team."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Version    int `json:"version"`
		Characters int `json:"characters"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}

	r := ts.requests[0]
	if !strings.HasPrefix(r.ContentType, "multipart/form-data") {
		t.Errorf("content type = %q, want multipart", r.ContentType)
	}
	if !strings.Contains(r.Body, `filename="cv.txt"`) {
		t.Errorf("body missing file part: %q", r.Body)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}
}

func TestJobURLRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/threads/t1/job-description/url": `{"thread_id":"t1","kind":"job_description","version":1,"characters":300}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/api/threads/t1/job-description/url", map[string]string{"url": "https://example.com/posting"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Characters int `json:"characters"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Characters != 300 {
		t.Errorf("characters = %d, want 300", result.Characters)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["url"] != "https://example.com/posting" {
		t.Errorf("body.url = %q", body["url"])
	}
}

func TestThreadDeleteRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /api/threads/t1": `{"status":"deleted"}`,
	})

	client := ts.client()
	resp, err := client.delete(ctx, "/api/threads/t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "deleted" {
		t.Errorf("status = %q, want deleted", result["status"])
	}
	if ts.requests[0].Method != "DELETE" {
		t.Errorf("method = %q", ts.requests[0].Method)
	}
}

func TestChatCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"chat"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
}

func TestStatusEndpoint_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/api/threads/t1/resume")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Gateway.Model = "anthropic/claude-sonnet-4"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

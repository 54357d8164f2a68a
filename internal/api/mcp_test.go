package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/resummate/internal/storage"
	"github.com/kalambet/resummate/internal/tools"
)

const testJob = `Senior Backend Engineer
Requirements: Go, Kubernetes, PostgreSQL.`

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{Store: store, Executor: tools.NewRegistry()}, store
}

func seedArtifacts(t *testing.T, store *storage.Store, threadID string) {
	t.Helper()
	if err := store.EnsureThread(threadID, ""); err != nil {
		t.Fatalf("EnsureThread: %v", err)
	}
	if _, err := store.PutArtifact(threadID, storage.KindResume, "resume.txt", testResume); err != nil {
		t.Fatalf("PutArtifact resume: %v", err)
	}
	if _, err := store.PutArtifact(threadID, storage.KindJobDescription, "job.txt", testJob); err != nil {
		t.Fatalf("PutArtifact job: %v", err)
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPScoreATSAlignment(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedArtifacts(t, store, "t1")

	handler := mcpRunTool(deps, "score_ats_alignment", func(req mcp.CallToolRequest) map[string]any {
		return map[string]any{}
	})
	result, err := handler(context.Background(), makeCallToolRequest("score_ats_alignment", map[string]any{
		"thread_id": "t1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool failed: %s", toolText(t, result))
	}

	var out struct {
		Score           int      `json:"score"`
		MatchedKeywords []string `json:"matched_keywords"`
		MissingKeywords []string `json:"missing_keywords"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("parsing tool output: %v", err)
	}
	if out.Score < 0 || out.Score > 100 {
		t.Errorf("score = %d, want 0..100", out.Score)
	}
	if len(out.MatchedKeywords)+len(out.MissingKeywords) == 0 {
		t.Error("no keywords reported")
	}
}

func TestMCPSuggestActionVerbs(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedArtifacts(t, store, "t1")

	handler := mcpRunTool(deps, "suggest_action_verbs", func(req mcp.CallToolRequest) map[string]any {
		args := map[string]any{}
		if section := req.GetString("section_text", ""); section != "" {
			args["section_text"] = section
		}
		return args
	})
	result, err := handler(context.Background(), makeCallToolRequest("suggest_action_verbs", map[string]any{
		"thread_id": "t1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool failed: %s", toolText(t, result))
	}

	var out struct {
		Suggestions []struct {
			Weak string `json:"weak"`
		} `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("parsing tool output: %v", err)
	}
	if len(out.Suggestions) == 0 {
		t.Error("no suggestions for a resume with weak phrasing")
	}
}

func TestMCPToolRequiresThreadID(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	handler := mcpRunTool(deps, "extract_required_skills", func(mcp.CallToolRequest) map[string]any {
		return map[string]any{}
	})
	result, err := handler(context.Background(), makeCallToolRequest("extract_required_skills", map[string]any{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("missing thread_id accepted")
	}
}

func TestMCPToolFailureSurfacesAsError(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	// Thread exists but has no job description.
	if err := store.EnsureThread("t1", ""); err != nil {
		t.Fatalf("EnsureThread: %v", err)
	}

	handler := mcpRunTool(deps, "extract_required_skills", func(mcp.CallToolRequest) map[string]any {
		return map[string]any{}
	})
	result, err := handler(context.Background(), makeCallToolRequest("extract_required_skills", map[string]any{
		"thread_id": "t1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Errorf("tool without a job description succeeded: %s", toolText(t, result))
	}
}

package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kalambet/resummate/internal/storage"
)

var sampleResume = `
Jane Doe — Backend Engineer

Summary
Was responsible for building Go microservices on Kubernetes.
Worked on PostgreSQL schema design and helped with code review.

Skills: Go, Docker, PostgreSQL, gRPC
`

var sampleJob = `
Senior Backend Engineer

We are looking for an engineer with strong Go and Kubernetes experience.
You will design microservices, operate PostgreSQL, and own Terraform
infrastructure. Experience with Kafka is a plus. Kafka powers our
event pipeline.
`

func execute(t *testing.T, r *Registry, name, args string, tc ThreadContext) storage.ToolResult {
	t.Helper()
	return r.Execute(context.Background(), storage.ToolCall{
		ID:        "call-1",
		Name:      name,
		Arguments: json.RawMessage(args),
	}, tc)
}

func TestDeclarationsStableOrder(t *testing.T) {
	r := NewRegistry()
	decls := r.Declarations()

	want := []string{"score_ats_alignment", "suggest_action_verbs", "extract_required_skills"}
	if len(decls) != len(want) {
		t.Fatalf("declaration count = %d, want %d", len(decls), len(want))
	}
	for i, name := range want {
		if decls[i].Name != name {
			t.Errorf("decls[%d] = %q, want %q", i, decls[i].Name, name)
		}
		if len(decls[i].Schema) == 0 {
			t.Errorf("decls[%d] has no schema", i)
		}
	}
}

func TestRegisterDuplicateNameRejected(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Tool{Name: "score_ats_alignment", Run: func(context.Context, map[string]any, ThreadContext) (string, error) {
		return "", nil
	}})
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := execute(t, r, "launch_missiles", `{}`, ThreadContext{})

	if res.Success {
		t.Fatal("unknown tool must not succeed")
	}
	if res.CallID != "call-1" {
		t.Errorf("CallID = %q, want call-1", res.CallID)
	}
	if !strings.Contains(res.Content, "unknown_tool") {
		t.Errorf("content missing machine-readable reason: %s", res.Content)
	}
}

func TestExecuteInvalidArguments(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		args string
	}{
		{"wrong type", `{"section_text": 42}`},
		{"unexpected property", `{"bogus": true}`},
		{"malformed json", `{"section_text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execute(t, r, "suggest_action_verbs", tt.args, ThreadContext{ResumeText: sampleResume})
			if res.Success {
				t.Fatalf("invalid args must not succeed: %s", res.Content)
			}
			if !strings.Contains(res.Content, "invalid_arguments") {
				t.Errorf("content missing reason: %s", res.Content)
			}
		})
	}
}

func TestScoreATSAlignment(t *testing.T) {
	r := NewRegistry()
	res := execute(t, r, "score_ats_alignment", `{}`, ThreadContext{ResumeText: sampleResume, JobText: sampleJob})

	if !res.Success {
		t.Fatalf("execution failed: %s", res.Content)
	}

	var out struct {
		Score           int      `json:"score"`
		MatchedKeywords []string `json:"matched_keywords"`
		MissingKeywords []string `json:"missing_keywords"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("decoding result: %v", err)
	}

	if out.Score <= 0 || out.Score > 100 {
		t.Errorf("score = %d, want within (0,100]", out.Score)
	}
	if !contains(out.MatchedKeywords, "go") || !contains(out.MatchedKeywords, "kubernetes") {
		t.Errorf("matched = %v, want go and kubernetes present", out.MatchedKeywords)
	}
	// Terraform and kafka appear only in the posting.
	if !contains(out.MissingKeywords, "terraform") || !contains(out.MissingKeywords, "kafka") {
		t.Errorf("missing = %v, want terraform and kafka", out.MissingKeywords)
	}
}

func TestScoreATSAlignmentRequiresBothArtifacts(t *testing.T) {
	r := NewRegistry()

	res := execute(t, r, "score_ats_alignment", `{}`, ThreadContext{JobText: sampleJob})
	if res.Success || !strings.Contains(res.Content, "execution_error") {
		t.Errorf("missing resume: %+v", res)
	}

	res = execute(t, r, "score_ats_alignment", `{}`, ThreadContext{ResumeText: sampleResume})
	if res.Success || !strings.Contains(res.Content, "execution_error") {
		t.Errorf("missing job description: %+v", res)
	}
}

func TestSuggestActionVerbs(t *testing.T) {
	r := NewRegistry()
	res := execute(t, r, "suggest_action_verbs",
		`{"section_text": "Was responsible for payments. Worked on the billing system."}`,
		ThreadContext{})

	if !res.Success {
		t.Fatalf("execution failed: %s", res.Content)
	}

	var out struct {
		Suggestions []verbSuggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(out.Suggestions) != 2 {
		t.Fatalf("suggestion count = %d, want 2: %+v", len(out.Suggestions), out.Suggestions)
	}
	if out.Suggestions[0].Weak != "was responsible for" {
		t.Errorf("first weak phrase = %q, want the longest match", out.Suggestions[0].Weak)
	}
	if len(out.Suggestions[0].Replacements) == 0 {
		t.Error("no replacements suggested")
	}
}

func TestSuggestActionVerbsFallsBackToResume(t *testing.T) {
	r := NewRegistry()
	res := execute(t, r, "suggest_action_verbs", `{}`, ThreadContext{ResumeText: sampleResume})

	if !res.Success {
		t.Fatalf("execution failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "was responsible for") {
		t.Errorf("resume fallback not analyzed: %s", res.Content)
	}
}

func TestExtractRequiredSkills(t *testing.T) {
	r := NewRegistry()
	res := execute(t, r, "extract_required_skills", `{}`, ThreadContext{JobText: sampleJob})

	if !res.Success {
		t.Fatalf("execution failed: %s", res.Content)
	}

	var out struct {
		Skills []string `json:"skills"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	for _, want := range []string{"go", "kubernetes", "terraform", "kafka", "postgresql", "microservices"} {
		if !contains(out.Skills, want) {
			t.Errorf("skills = %v, missing %q", out.Skills, want)
		}
	}
}

func TestExtractRequiredSkillsWithoutJob(t *testing.T) {
	r := NewRegistry()
	res := execute(t, r, "extract_required_skills", `{}`, ThreadContext{ResumeText: sampleResume})
	if res.Success {
		t.Fatalf("expected failure without job description: %s", res.Content)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

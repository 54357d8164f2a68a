package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/resummate/internal/storage"
	"github.com/kalambet/resummate/internal/tools"
)

// MCPExecutor runs registered analysis tools. Satisfied by *tools.Registry.
type MCPExecutor interface {
	Execute(ctx context.Context, call storage.ToolCall, tc tools.ThreadContext) storage.ToolResult
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Executor MCPExecutor
}

// NewMCPServer exposes the resume analysis tools over MCP, so external
// agents can run them against a thread's uploaded artifacts.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"resummate",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("resummate — resume coaching analysis tools. Each tool runs against the resume and job description uploaded to a thread."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("score_ats_alignment",
			mcp.WithDescription("Score how well the thread's resume matches its job description, with matched and missing keywords."),
			mcp.WithString("thread_id", mcp.Description("Thread whose artifacts to analyze"), mcp.Required()),
			mcp.WithString("focus", mcp.Description("Optional focus area; 'skills' restricts keywords to the skill lexicon")),
		),
		mcpRunTool(deps, "score_ats_alignment", func(req mcp.CallToolRequest) map[string]any {
			args := map[string]any{}
			if focus := req.GetString("focus", ""); focus != "" {
				args["focus"] = focus
			}
			return args
		}),
	)

	s.AddTool(
		mcp.NewTool("suggest_action_verbs",
			mcp.WithDescription("Find weak phrasing in the thread's resume and suggest stronger action verbs."),
			mcp.WithString("thread_id", mcp.Description("Thread whose resume to analyze"), mcp.Required()),
			mcp.WithString("section_text", mcp.Description("Optional section to analyze instead of the whole resume")),
		),
		mcpRunTool(deps, "suggest_action_verbs", func(req mcp.CallToolRequest) map[string]any {
			args := map[string]any{}
			if section := req.GetString("section_text", ""); section != "" {
				args["section_text"] = section
			}
			return args
		}),
	)

	s.AddTool(
		mcp.NewTool("extract_required_skills",
			mcp.WithDescription("Extract the skills the thread's job description asks for."),
			mcp.WithString("thread_id", mcp.Description("Thread whose job description to analyze"), mcp.Required()),
		),
		mcpRunTool(deps, "extract_required_skills", func(mcp.CallToolRequest) map[string]any {
			return map[string]any{}
		}),
	)

	return s
}

// mcpRunTool adapts a registry tool into an MCP handler: resolve the
// thread's artifacts, then execute with the request's arguments.
func mcpRunTool(deps MCPDeps, name string, buildArgs func(mcp.CallToolRequest) map[string]any) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcpError("thread_id is required"), nil
		}

		tc, err := loadThreadContext(deps.Store, threadID)
		if err != nil {
			return mcpError(fmt.Sprintf("loading thread artifacts: %v", err)), nil
		}

		raw, err := json.Marshal(buildArgs(req))
		if err != nil {
			return mcpError(fmt.Sprintf("encoding arguments: %v", err)), nil
		}

		call := storage.ToolCall{ID: "mcp-" + uuid.NewString(), Name: name, Arguments: raw}
		result := deps.Executor.Execute(ctx, call, tc)
		if !result.Success {
			return mcpError(result.Content), nil
		}
		return mcpText(result.Content), nil
	}
}

func loadThreadContext(store *storage.Store, threadID string) (tools.ThreadContext, error) {
	var tc tools.ThreadContext

	resume, err := store.CurrentArtifact(threadID, storage.KindResume)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return tc, err
	}
	tc.ResumeText = resume.Text

	job, err := store.CurrentArtifact(threadID, storage.KindJobDescription)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return tc, err
	}
	tc.JobText = job.Text
	return tc, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// Package tools implements the coaching tool registry: schema-validated,
// read-only analysis functions the model may invoke mid-turn. Tools are
// pure over (arguments, resume text, job text), which keeps execution
// idempotent and safe to run concurrently within a batch.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kalambet/resummate/internal/storage"
)

// ThreadContext carries the artifact text snapshot a tool operates on.
type ThreadContext struct {
	ResumeText string
	JobText    string
}

// Handler executes one tool call against validated arguments.
type Handler func(ctx context.Context, args map[string]any, tc ThreadContext) (string, error)

// Tool declares one callable analysis function.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Run         Handler
}

// Declaration is the (name, schema) pair advertised to the model.
type Declaration struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Registry holds the closed set of declared tools. Tool names are stable
// identifiers; registration order determines declaration order.
type Registry struct {
	order []string
	tools map[string]registered
}

type registered struct {
	tool     Tool
	compiled *gojsonschema.Schema
}

// NewRegistry returns a registry with the built-in coaching tools.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]registered)}
	// Registration of built-ins cannot fail: schemas are static.
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(r.Register(scoreATSAlignmentTool()))
	must(r.Register(suggestActionVerbsTool()))
	must(r.Register(extractRequiredSkillsTool()))
	return r
}

// Register adds a tool, compiling its argument schema. Re-registering an
// existing name is an error: models cache tool-call habits across turns,
// so names must never change meaning.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	schema := t.Schema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return fmt.Errorf("compiling schema for %q: %w", t.Name, err)
	}
	t.Schema = schema
	r.order = append(r.order, t.Name)
	r.tools[t.Name] = registered{tool: t, compiled: compiled}
	return nil
}

// Declarations returns the advertised tools in registration order.
func (r *Registry) Declarations() []Declaration {
	decls := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].tool
		decls = append(decls, Declaration{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}
	return decls
}

// Execute runs one tool call and always returns a ToolResult: unknown
// names, invalid arguments, and handler failures become Success=false
// results with a machine-readable reason so the model can self-correct.
// Errors never propagate to the caller.
func (r *Registry) Execute(ctx context.Context, call storage.ToolCall, tc ThreadContext) storage.ToolResult {
	reg, ok := r.tools[call.Name]
	if !ok {
		return failure(call, "unknown_tool", fmt.Sprintf("tool %q is not declared", call.Name))
	}

	raw := call.Arguments
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	validation, err := reg.compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return failure(call, "invalid_arguments", fmt.Sprintf("arguments are not valid JSON: %v", err))
	}
	if !validation.Valid() {
		reasons := make([]string, 0, len(validation.Errors()))
		for _, desc := range validation.Errors() {
			reasons = append(reasons, desc.String())
		}
		return failure(call, "invalid_arguments", strings.Join(reasons, "; "))
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure(call, "invalid_arguments", fmt.Sprintf("decoding arguments: %v", err))
	}

	content, err := reg.tool.Run(ctx, args, tc)
	if err != nil {
		return failure(call, "execution_error", err.Error())
	}

	return storage.ToolResult{CallID: call.ID, Name: call.Name, Success: true, Content: content}
}

func failure(call storage.ToolCall, reason, detail string) storage.ToolResult {
	content, _ := json.Marshal(map[string]string{"error": reason, "detail": detail})
	return storage.ToolResult{CallID: call.ID, Name: call.Name, Success: false, Content: string(content)}
}

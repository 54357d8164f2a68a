// Package turn implements the conversational coaching turn: one user
// message is answered through a bounded model/tool loop, with text deltas
// relayed to the caller as they arrive and every completed step persisted
// to the thread's append-only history.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/resummate/internal/gateway"
	"github.com/kalambet/resummate/internal/prompt"
	"github.com/kalambet/resummate/internal/storage"
	"github.com/kalambet/resummate/internal/tools"
)

// resumeRequiredReply is streamed (and persisted) when the user chats
// before uploading a resume. This is a business-level answer, not an
// input-validation failure: the user message is still recorded.
const resumeRequiredReply = "Please upload a resume before chatting with Resummate."

// Store is the slice of the persistence layer a turn needs.
type Store interface {
	EnsureThread(id, userRef string) error
	Messages(threadID string) ([]storage.Message, error)
	AppendMessage(threadID string, m storage.Message, expectedPrior int) (int, error)
	CurrentArtifact(threadID, kind string) (storage.Artifact, error)
}

// Model is the gateway seam. A single Generate attempt; retry policy lives
// here in the orchestrator.
type Model interface {
	Generate(ctx context.Context, messages []gateway.ChatMessage, tools []gateway.ToolDeclaration, cfg gateway.GenerationConfig) (*gateway.Result, error)
}

// ToolExecutor declares and runs the registered analysis tools.
type ToolExecutor interface {
	Declarations() []tools.Declaration
	Execute(ctx context.Context, call storage.ToolCall, tc tools.ThreadContext) storage.ToolResult
}

// Options configures turn behavior.
type Options struct {
	Model           string
	Temperature     float64
	TemperatureSet  bool
	MaxOutputTokens int
	MaxToolRounds   int           // consecutive tool-call rounds before a forced finalize (default 4)
	ToolTimeout     time.Duration // per tool execution (default 20s)
	RetryBackoff    time.Duration // before the single upstream retry (default 500ms)
}

func (o Options) withDefaults() Options {
	if o.MaxToolRounds <= 0 {
		o.MaxToolRounds = 4
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = 20 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	return o
}

// Orchestrator runs turns. At most one turn per thread is in flight at a
// time; distinct threads run fully in parallel.
type Orchestrator struct {
	store    Store
	model    Model
	tools    ToolExecutor
	composer *prompt.Composer
	opts     Options

	mu     sync.Mutex
	active map[string]bool
}

// New creates an Orchestrator wired to its collaborators.
func New(store Store, model Model, executor ToolExecutor, composer *prompt.Composer, opts Options) *Orchestrator {
	if composer == nil {
		composer = prompt.New(0)
	}
	return &Orchestrator{
		store:    store,
		model:    model,
		tools:    executor,
		composer: composer,
		opts:     opts.withDefaults(),
		active:   make(map[string]bool),
	}
}

// Run starts a turn for the thread and returns its frame stream. It fails
// fast with ErrInvalidInput (no store writes) or ErrThreadBusy (another
// turn holds the thread); all later failures arrive as terminal error
// frames on the stream.
func (o *Orchestrator) Run(ctx context.Context, threadID, userText string) (*Stream, error) {
	userText = strings.TrimSpace(userText)
	if threadID == "" || userText == "" {
		return nil, ErrInvalidInput
	}
	if !o.acquire(threadID) {
		return nil, ErrThreadBusy
	}

	s := newStream()
	go func() {
		defer o.release(threadID)
		defer close(s.frames)
		o.runTurn(ctx, threadID, userText, s)
	}()
	return s, nil
}

func (o *Orchestrator) acquire(threadID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[threadID] {
		return false
	}
	o.active[threadID] = true
	return true
}

func (o *Orchestrator) release(threadID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, threadID)
}

// runTurn drives the turn state machine: Loading, then alternating
// Generating/Executing rounds, then Finalizing. It emits the terminal
// frame itself.
func (o *Orchestrator) runTurn(ctx context.Context, threadID, userText string, s *Stream) {
	log := slog.With("thread_id", threadID)

	// Loading: snapshot history and current artifacts. Artifact versions
	// observed here stay fixed for the whole turn.
	if err := o.store.EnsureThread(threadID, ""); err != nil {
		s.emit(ctx, errorFrame(KindStoreWriteFailed, "creating thread: %v", err))
		return
	}
	history, err := o.store.Messages(threadID)
	if err != nil {
		s.emit(ctx, errorFrame(KindInternal, "reading history: %v", err))
		return
	}
	tc, err := o.loadArtifacts(threadID)
	if err != nil {
		s.emit(ctx, errorFrame(KindInternal, "reading artifacts: %v", err))
		return
	}

	// The user message is committed before generation so a crash mid-turn
	// still records intent.
	tail := len(history) - 1
	tail, err = o.store.AppendMessage(threadID, storage.Message{Role: storage.RoleUser, Content: userText}, tail)
	if err != nil {
		s.emit(ctx, errorFrame(KindStoreWriteFailed, "recording user message: %v", err))
		return
	}

	if strings.TrimSpace(tc.ResumeText) == "" {
		o.finalizeCanned(ctx, threadID, tail, s)
		return
	}

	msgs := wireHistory(o.composer.System(tc.ResumeText, tc.JobText), history)
	msgs = append(msgs, gateway.ChatMessage{Role: storage.RoleUser, Content: userText})
	decls := wireDeclarations(o.tools.Declarations())

	toolRounds := 0
	for {
		forced := toolRounds >= o.opts.MaxToolRounds
		offer := decls
		if forced {
			// Loop bound hit: best-effort summary request with no further
			// tool use permitted.
			offer = nil
			msgs = append(msgs, gateway.ChatMessage{
				Role:    "system",
				Content: "Tool budget exhausted. Answer the user now with what you have; do not request tools.",
			})
		}

		res, err := o.generateWithRetry(ctx, msgs, offer)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("turn cancelled during generation")
				return
			}
			kind := KindInternal
			if errors.Is(err, gateway.ErrUpstream) {
				kind = KindUpstreamUnavailable
			}
			s.emit(ctx, errorFrame(kind, "model generation failed: %v", err))
			return
		}

		if res.Stream == nil {
			if forced {
				s.emit(ctx, errorFrame(KindToolLoopExceeded, "model kept requesting tools after %d rounds", toolRounds))
				return
			}
			toolRounds++
			tail, msgs, err = o.executeToolRound(ctx, threadID, tail, msgs, res.ToolCalls, tc, s)
			if err != nil {
				s.emit(ctx, errorFrame(KindStoreWriteFailed, "persisting tool round: %v", err))
				return
			}
			continue
		}

		// Finalizing: relay deltas, then commit the complete assistant
		// message. Nothing is persisted if the stream fails or the caller
		// goes away; partial text already delivered stays as-is.
		text, err := o.relay(ctx, res.Stream, s)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("caller disconnected mid-stream; discarding turn output")
				return
			}
			s.emit(ctx, errorFrame(KindUpstreamUnavailable, "stream interrupted: %v", err))
			return
		}
		if _, err := o.store.AppendMessage(threadID, storage.Message{Role: storage.RoleAssistant, Content: text}, tail); err != nil {
			s.emit(ctx, errorFrame(KindStoreWriteFailed, "recording assistant message: %v", err))
			return
		}
		s.meta.ToolRounds = toolRounds
		s.emit(ctx, Frame{Type: "done"})
		return
	}
}

// loadArtifacts snapshots the current resume and job-description text.
// Absence is not an error.
func (o *Orchestrator) loadArtifacts(threadID string) (tools.ThreadContext, error) {
	var tc tools.ThreadContext

	resume, err := o.store.CurrentArtifact(threadID, storage.KindResume)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return tc, err
	}
	tc.ResumeText = resume.Text

	job, err := o.store.CurrentArtifact(threadID, storage.KindJobDescription)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return tc, err
	}
	tc.JobText = job.Text
	return tc, nil
}

// finalizeCanned streams and persists the fixed upload-a-resume reply.
func (o *Orchestrator) finalizeCanned(ctx context.Context, threadID string, tail int, s *Stream) {
	s.emit(ctx, Frame{Type: "delta", Text: resumeRequiredReply})
	if _, err := o.store.AppendMessage(threadID, storage.Message{Role: storage.RoleAssistant, Content: resumeRequiredReply}, tail); err != nil {
		s.emit(ctx, errorFrame(KindStoreWriteFailed, "recording assistant message: %v", err))
		return
	}
	s.emit(ctx, Frame{Type: "done"})
}

// generateWithRetry makes one gateway attempt, retrying exactly once with
// backoff on transport-level failures.
func (o *Orchestrator) generateWithRetry(ctx context.Context, msgs []gateway.ChatMessage, decls []gateway.ToolDeclaration) (*gateway.Result, error) {
	cfg := gateway.GenerationConfig{
		Model:           o.opts.Model,
		Temperature:     o.opts.Temperature,
		TemperatureSet:  o.opts.TemperatureSet,
		MaxOutputTokens: o.opts.MaxOutputTokens,
	}

	res, err := o.model.Generate(ctx, msgs, decls, cfg)
	if err == nil || !errors.Is(err, gateway.ErrUpstream) {
		return res, err
	}

	slog.Warn("upstream generation failed, retrying once", "error", err)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(o.opts.RetryBackoff):
	}
	return o.model.Generate(ctx, msgs, decls, cfg)
}

// executeToolRound persists the assistant tool-call message, runs the
// batch concurrently, persists one tool message per result in call order,
// and extends the wire history for the next generation round.
func (o *Orchestrator) executeToolRound(
	ctx context.Context,
	threadID string,
	tail int,
	msgs []gateway.ChatMessage,
	calls []gateway.ToolCall,
	tc tools.ThreadContext,
	s *Stream,
) (int, []gateway.ChatMessage, error) {
	stored := make([]storage.ToolCall, len(calls))
	for i, c := range calls {
		id := c.ID
		if id == "" {
			id = "call-" + uuid.NewString()
		}
		stored[i] = storage.ToolCall{ID: id, Name: c.Name, Arguments: c.Arguments}
	}

	tail, err := o.store.AppendMessage(threadID, storage.Message{Role: storage.RoleAssistant, ToolCalls: stored}, tail)
	if err != nil {
		return tail, msgs, err
	}
	s.meta.ToolCalls = append(s.meta.ToolCalls, stored...)

	// Tools are read-only and independent within a batch; run them
	// concurrently but wait for the full batch before generating again.
	results := make([]storage.ToolResult, len(stored))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range stored {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, o.opts.ToolTimeout)
			defer cancel()
			results[i] = o.tools.Execute(cctx, call, tc)
			return nil
		})
	}
	g.Wait()

	assistant := gateway.ChatMessage{Role: storage.RoleAssistant}
	for _, c := range stored {
		assistant.ToolCalls = append(assistant.ToolCalls, gateway.WireToolCall{
			ID:       c.ID,
			Type:     "function",
			Function: gateway.WireFunction{Name: c.Name, Arguments: string(c.Arguments)},
		})
	}
	msgs = append(msgs, assistant)

	for _, r := range results {
		if !r.Success {
			slog.Debug("tool execution failed; result fed back to model", "tool", r.Name, "call_id", r.CallID)
		}
		tail, err = o.store.AppendMessage(threadID, storage.Message{Role: storage.RoleTool, ToolResult: &r}, tail)
		if err != nil {
			return tail, msgs, err
		}
		msgs = append(msgs, gateway.ChatMessage{Role: storage.RoleTool, Content: r.Content, ToolCallID: r.CallID})
	}
	return tail, msgs, nil
}

// relay forwards text deltas to the caller, returning the accumulated
// text. Caller cancellation aborts the upstream stream.
func (o *Orchestrator) relay(ctx context.Context, ds *gateway.DeltaStream, s *Stream) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			ds.Close()
			for range ds.Deltas() {
				// drain so the gateway goroutine can exit
			}
			return "", ctx.Err()
		case d, ok := <-ds.Deltas():
			if !ok {
				if err := ds.Err(); err != nil {
					return "", err
				}
				return sb.String(), nil
			}
			sb.WriteString(d)
			s.emit(ctx, Frame{Type: "delta", Text: d})
		}
	}
}

// wireHistory converts stored history into the gateway wire format,
// prefixed with the system message.
func wireHistory(system string, history []storage.Message) []gateway.ChatMessage {
	msgs := make([]gateway.ChatMessage, 0, len(history)+1)
	msgs = append(msgs, gateway.ChatMessage{Role: "system", Content: system})
	for _, m := range history {
		wm := gateway.ChatMessage{Role: m.Role, Content: m.Content}
		for _, c := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, gateway.WireToolCall{
				ID:       c.ID,
				Type:     "function",
				Function: gateway.WireFunction{Name: c.Name, Arguments: string(c.Arguments)},
			})
		}
		if m.ToolResult != nil {
			wm.ToolCallID = m.ToolResult.CallID
			wm.Content = m.ToolResult.Content
		}
		msgs = append(msgs, wm)
	}
	return msgs
}

func wireDeclarations(decls []tools.Declaration) []gateway.ToolDeclaration {
	out := make([]gateway.ToolDeclaration, len(decls))
	for i, d := range decls {
		out[i] = gateway.ToolDeclaration{Name: d.Name, Description: d.Description, Parameters: d.Schema}
	}
	return out
}

func errorFrame(kind, format string, args ...any) Frame {
	return Frame{Type: "error", Kind: kind, Message: fmt.Sprintf(format, args...)}
}

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crucible-ai/crucible/internal/llm"
	"github.com/crucible-ai/crucible/internal/tools"
)

// Phase names a state of the orchestration machine. Terminal has no
// outgoing transitions.
type Phase string

const (
	PhaseGenerator      Phase = "generator"
	PhaseGeneratorTools Phase = "generator_tools"
	PhaseExecutor       Phase = "executor"
	PhaseExecutorTools  Phase = "executor_tools"
	PhaseTerminal       Phase = "terminal"
)

// Recorder receives per-run observability signals. It never
// influences control flow.
type Recorder interface {
	RecordRun(status string, duration time.Duration, iterations int)
}

// RunStore receives the final message history keyed by session ID.
// It is not consulted mid-run.
type RunStore interface {
	SaveRun(ctx context.Context, sessionID string, history []llm.Message, success bool) error
}

// Loop is the orchestration state machine. One Loop is shared across
// runs; each Run call owns its State and proceeds as a single logical
// sequence with no intra-run parallelism.
type Loop struct {
	provider      llm.Provider
	dispatcher    *tools.Dispatcher
	generatorDefs []llm.ToolDefinition
	executorDefs  []llm.ToolDefinition
	logger        *slog.Logger
	maxIterations int          // 0 = DefaultMaxIterations
	routing       RoutingPolicy
	totals        *llm.Totals // nil = no process-wide accumulation
	recorder      Recorder    // nil = observability disabled
	store         RunStore    // nil = no persistence
}

// NewLoop creates the orchestration loop over the given provider and
// tool dispatcher.
func NewLoop(provider llm.Provider, dispatcher *tools.Dispatcher, logger *slog.Logger) *Loop {
	return &Loop{
		provider:   provider,
		dispatcher: dispatcher,
		logger:     logger,
		routing:    IsConversational,
	}
}

// WithGeneratorTools binds the tool definitions offered on generator turns.
func (l *Loop) WithGeneratorTools(defs []llm.ToolDefinition) *Loop {
	l.generatorDefs = defs
	return l
}

// WithExecutorTools binds the tool definitions offered on executor turns.
func (l *Loop) WithExecutorTools(defs []llm.ToolDefinition) *Loop {
	l.executorDefs = defs
	return l
}

// WithMaxIterations sets the role-turn ceiling for each run.
func (l *Loop) WithMaxIterations(n int) *Loop {
	l.maxIterations = n
	return l
}

// WithRoutingPolicy replaces the conversational classifier.
func (l *Loop) WithRoutingPolicy(p RoutingPolicy) *Loop {
	if p != nil {
		l.routing = p
	}
	return l
}

// WithTotals attaches the process-wide usage accumulator.
func (l *Loop) WithTotals(t *llm.Totals) *Loop {
	l.totals = t
	return l
}

// WithRecorder attaches run-level observability.
func (l *Loop) WithRecorder(r Recorder) *Loop {
	l.recorder = r
	return l
}

// WithStore attaches run persistence.
func (l *Loop) WithStore(s RunStore) *Loop {
	l.store = s
	return l
}

// RunResult is the outcome of one orchestration run.
type RunResult struct {
	SessionID  string
	Message    string // Final model content shown to the user.
	Success    bool
	Iterations int
	History    []llm.Message
	Usage      llm.Usage
	LLMCalls   int
}

// Run drives one orchestration run to Terminal. Tool and execution
// failures are folded into the conversation as feedback; the only
// error returned is a failed model invocation.
func (l *Loop) Run(ctx context.Context, sessionID, message string) (*RunResult, error) {
	start := time.Now()
	state := NewState(l.maxIterations)
	usage := &llm.UsageTracker{}
	ctx = tools.ContextWithSessionID(ctx, sessionID)

	l.logger.InfoContext(ctx, "run starting",
		slog.String("session_id", sessionID),
		slog.String("provider", l.provider.Name()),
	)

	state.Append(llm.Message{Role: llm.RoleUser, Content: message})

	// Conversational fast path: before the first generator turn only,
	// with no feedback pending, a casual message is answered directly
	// with no tools bound. This never reports success.
	if state.Iteration() == 0 && !state.HasFeedback() && l.routing(message) {
		state.BeginTurn()
		resp, err := l.send(ctx, usage, chatPrompt, state, nil)
		if err != nil {
			return l.fail(ctx, sessionID, state, usage, start, err)
		}
		state.Append(llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		return l.finish(ctx, sessionID, state, usage, resp.Content, start, "chat"), nil
	}

	phase := PhaseGenerator
	var lastContent string
	for phase != PhaseTerminal {
		var err error
		switch phase {
		case PhaseGenerator:
			phase, lastContent, err = l.generatorTurn(ctx, state, usage)
		case PhaseExecutor:
			phase, lastContent, err = l.executorTurn(ctx, state, usage)
		default:
			return nil, fmt.Errorf("orchestration reached unknown phase %q", phase)
		}
		if err != nil {
			return l.fail(ctx, sessionID, state, usage, start, err)
		}
	}

	status := "failure"
	if state.Success() {
		status = "success"
	}
	return l.finish(ctx, sessionID, state, usage, lastContent, start, status), nil
}

// generatorTurn runs one generator model turn and routes. Returning
// PhaseGenerator means a tool round-trip happened; the next entry
// counts as a fresh role turn.
func (l *Loop) generatorTurn(ctx context.Context, state *State, usage *llm.UsageTracker) (Phase, string, error) {
	if state.BudgetExhausted() {
		return PhaseTerminal, budgetMessage, nil
	}
	state.BeginTurn()

	if fb := state.ConsumeFeedback(); fb != "" {
		state.Append(llm.Message{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Execution feedback:\n%s\n\nFix the code.", fb),
		})
	}

	resp, err := l.send(ctx, usage, generatorPrompt, state, l.generatorDefs)
	if err != nil {
		return PhaseTerminal, "", err
	}
	state.Append(llm.Message{Role: llm.RoleAssistant, ContentBlocks: resp.ContentBlocks})

	if resp.HasToolUse() {
		l.dispatchToolCalls(ctx, state, PhaseGeneratorTools, resp.ToolUseBlocks())
		return PhaseGenerator, resp.Content, nil
	}
	if strings.Contains(resp.Content, ReadyMarker) {
		return PhaseExecutor, resp.Content, nil
	}
	// Direct answer, or nothing more the generator can do.
	return PhaseTerminal, resp.Content, nil
}

// executorTurn runs one executor model turn and routes.
func (l *Loop) executorTurn(ctx context.Context, state *State, usage *llm.UsageTracker) (Phase, string, error) {
	if state.BudgetExhausted() {
		return PhaseTerminal, budgetMessage, nil
	}
	state.BeginTurn()

	resp, err := l.send(ctx, usage, executorPrompt, state, l.executorDefs)
	if err != nil {
		return PhaseTerminal, "", err
	}
	state.Append(llm.Message{Role: llm.RoleAssistant, ContentBlocks: resp.ContentBlocks})

	if resp.HasToolUse() {
		l.dispatchToolCalls(ctx, state, PhaseExecutorTools, resp.ToolUseBlocks())
		return PhaseExecutor, resp.Content, nil
	}
	if isSuccessReport(resp.Content) {
		state.MarkSuccess()
		return PhaseTerminal, resp.Content, nil
	}
	if state.BudgetExhausted() {
		return PhaseTerminal, resp.Content, nil
	}
	// Failed execution: the report becomes feedback and the generator
	// gets another attempt. This closes the repair loop.
	state.SetFeedback(resp.Content)
	return PhaseGenerator, resp.Content, nil
}

// dispatchToolCalls resolves every tool call from a model turn, in
// order, and appends the results as one user message. Each call is
// resolved before the next model turn for that role.
func (l *Loop) dispatchToolCalls(ctx context.Context, state *State, phase Phase, calls []llm.ContentBlock) {
	l.logger.InfoContext(ctx, "dispatching tool calls",
		slog.String("phase", string(phase)),
		slog.Int("iteration", state.Iteration()),
		slog.Int("tool_calls", len(calls)),
	)

	results := make([]llm.ContentBlock, 0, len(calls))
	for _, call := range calls {
		results = append(results, l.dispatcher.Dispatch(ctx, call))
	}
	state.Append(llm.Message{Role: llm.RoleUser, ContentBlocks: results})
}

func (l *Loop) send(ctx context.Context, usage *llm.UsageTracker, systemPrompt string, state *State, defs []llm.ToolDefinition) (*llm.Response, error) {
	resp, err := l.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     state.History(),
		Tools:        defs,
	})
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	usage.Record(resp.Usage)
	return resp, nil
}

const budgetMessage = "Maximum iterations reached without a successful execution. Please refine your request."

func isSuccessReport(content string) bool {
	for _, marker := range successMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

func (l *Loop) finish(ctx context.Context, sessionID string, state *State, usage *llm.UsageTracker, message string, start time.Time, status string) *RunResult {
	duration := time.Since(start)

	if l.totals != nil {
		l.totals.Merge(usage)
	}
	if l.recorder != nil {
		l.recorder.RecordRun(status, duration, state.Iteration())
	}
	if l.store != nil {
		if err := l.store.SaveRun(ctx, sessionID, state.History(), state.Success()); err != nil {
			l.logger.ErrorContext(ctx, "failed to persist run history",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	l.logger.InfoContext(ctx, "run finished",
		slog.String("session_id", sessionID),
		slog.String("status", status),
		slog.Int("iterations", state.Iteration()),
		slog.Int("input_tokens", usage.InputTokens()),
		slog.Int("output_tokens", usage.OutputTokens()),
		slog.Duration("duration", duration),
	)

	return &RunResult{
		SessionID:  sessionID,
		Message:    message,
		Success:    state.Success(),
		Iterations: state.Iteration(),
		History:    state.History(),
		Usage:      llm.Usage{InputTokens: usage.InputTokens(), OutputTokens: usage.OutputTokens()},
		LLMCalls:   usage.Calls(),
	}
}

func (l *Loop) fail(ctx context.Context, sessionID string, state *State, usage *llm.UsageTracker, start time.Time, err error) (*RunResult, error) {
	if l.totals != nil {
		l.totals.Merge(usage)
	}
	if l.recorder != nil {
		l.recorder.RecordRun("error", time.Since(start), state.Iteration())
	}
	l.logger.ErrorContext(ctx, "run aborted",
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()),
	)
	return nil, err
}

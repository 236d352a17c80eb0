// Package agent drives the Generator/Executor orchestration loop:
// role switching, tool-call dispatch, iteration budgeting and
// termination. The loop makes progress only by invoking tools; code
// execution goes through the sandbox manager behind the executor
// tool set.
package agent

import "github.com/crucible-ai/crucible/internal/llm"

// DefaultMaxIterations is the ceiling on Generator/Executor model
// turns for one run.
const DefaultMaxIterations = 10

// State is the single mutable record threaded through one run.
// It is exclusively owned by that run and never shared.
type State struct {
	history       []llm.Message
	feedback      string
	iteration     int
	maxIterations int
	success       bool
}

// NewState creates run state with the given iteration ceiling.
func NewState(maxIterations int) *State {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &State{maxIterations: maxIterations}
}

// Append adds messages to the history. The history is append-only;
// nothing in the loop reorders or truncates it.
func (s *State) Append(msgs ...llm.Message) {
	s.history = append(s.history, msgs...)
}

// History returns the conversation log in insertion order.
func (s *State) History() []llm.Message {
	return s.history
}

// SetFeedback stores an execution report for the next generator turn.
func (s *State) SetFeedback(report string) {
	s.feedback = report
}

// ConsumeFeedback returns the pending execution report and clears it.
// The generator turn that consumes feedback owns repairing the code.
func (s *State) ConsumeFeedback() string {
	f := s.feedback
	s.feedback = ""
	return f
}

// HasFeedback reports whether an execution report is pending.
func (s *State) HasFeedback() bool { return s.feedback != "" }

// BeginTurn increments the iteration counter for a role turn.
// Tool-dispatch states never call this.
func (s *State) BeginTurn() { s.iteration++ }

// Iteration returns the number of role turns taken so far.
func (s *State) Iteration() int { return s.iteration }

// BudgetExhausted reports whether the iteration ceiling is reached.
func (s *State) BudgetExhausted() bool {
	return s.iteration >= s.maxIterations
}

// MarkSuccess records that an executor turn reported success.
func (s *State) MarkSuccess() { s.success = true }

// Success reports whether the run ended with a success report.
func (s *State) Success() bool { return s.success }

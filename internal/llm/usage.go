package llm

import "sync/atomic"

// UsageTracker accumulates token usage for one orchestration run.
// It is owned by that run and requires no locking; call Merge on a shared
// Totals when the run ends.
type UsageTracker struct {
	inputTokens  int
	outputTokens int
	calls        int
	model        string
}

// Record adds one model call's usage.
func (t *UsageTracker) Record(u Usage) {
	t.inputTokens += u.InputTokens
	t.outputTokens += u.OutputTokens
	t.calls++
}

// SetModel records the model name for reporting. Last writer wins.
func (t *UsageTracker) SetModel(name string) { t.model = name }

// InputTokens returns the accumulated input token count.
func (t *UsageTracker) InputTokens() int { return t.inputTokens }

// OutputTokens returns the accumulated output token count.
func (t *UsageTracker) OutputTokens() int { return t.outputTokens }

// TotalTokens returns input plus output tokens.
func (t *UsageTracker) TotalTokens() int { return t.inputTokens + t.outputTokens }

// Calls returns the number of model calls recorded.
func (t *UsageTracker) Calls() int { return t.calls }

// Model returns the last recorded model name.
func (t *UsageTracker) Model() string { return t.model }

// Totals is a process-wide usage accumulator shared across concurrent runs.
// All increments are atomic; runs merge their owned trackers in at run end
// rather than mutating shared state mid-flight.
type Totals struct {
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
	calls        atomic.Int64
	runs         atomic.Int64
}

// Merge folds a run's tracker into the process totals.
func (g *Totals) Merge(t *UsageTracker) {
	if t == nil {
		return
	}
	g.inputTokens.Add(int64(t.inputTokens))
	g.outputTokens.Add(int64(t.outputTokens))
	g.calls.Add(int64(t.calls))
	g.runs.Add(1)
}

// Snapshot returns the current totals.
func (g *Totals) Snapshot() (inputTokens, outputTokens, calls, runs int64) {
	return g.inputTokens.Load(), g.outputTokens.Load(), g.calls.Load(), g.runs.Load()
}

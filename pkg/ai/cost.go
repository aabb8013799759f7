package ai

import (
	"sync"
	"sync/atomic"
)

// Operation tags a cost-tracked call with its logical purpose.
type Operation string

// Cost-tracked operations.
const (
	OpStudioDetection    Operation = "studio_detection"
	OpPerformerDetection Operation = "performer_detection"
	OpTagDetection       Operation = "tag_detection"
	OpVideoTagDetection  Operation = "video_tag_detection"
)

// ModelCost is the USD price per million tokens for one model.
type ModelCost struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// defaultCosts is the built-in price table; operators override per model
// via configuration.
var defaultCosts = map[string]ModelCost{
	"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4o":      {InputPerMillion: 2.50, OutputPerMillion: 10.00},
}

// estimateTokens approximates the token count of text when the transport
// does not report exact usage. Four characters per token.
func estimateTokens(text string) int {
	return len(text) / 4
}

type opCounters struct {
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
	nanoUSD          atomic.Int64
	calls            atomic.Int64
}

// CostTracker accumulates token and dollar totals per operation.
// Increments are atomic; readers see an eventually-consistent snapshot.
type CostTracker struct {
	costs map[string]ModelCost

	mu  sync.Mutex
	ops map[Operation]*opCounters
}

// NewCostTracker creates a tracker. overrides replaces the built-in
// price for any model it names.
func NewCostTracker(overrides map[string]ModelCost) *CostTracker {
	costs := make(map[string]ModelCost, len(defaultCosts)+len(overrides))
	for model, cost := range defaultCosts {
		costs[model] = cost
	}
	for model, cost := range overrides {
		costs[model] = cost
	}
	return &CostTracker{
		costs: costs,
		ops:   make(map[Operation]*opCounters),
	}
}

func (t *CostTracker) counters(op Operation) *opCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.ops[op]
	if !ok {
		c = &opCounters{}
		t.ops[op] = c
	}
	return c
}

// Record adds one call's usage to the operation's totals. Unknown models
// record tokens but zero cost.
func (t *CostTracker) Record(op Operation, model string, promptTokens, completionTokens int) {
	c := t.counters(op)
	c.calls.Add(1)
	c.promptTokens.Add(int64(promptTokens))
	c.completionTokens.Add(int64(completionTokens))

	cost, ok := t.costs[model]
	if !ok {
		return
	}
	usd := float64(promptTokens)/1e6*cost.InputPerMillion +
		float64(completionTokens)/1e6*cost.OutputPerMillion
	c.nanoUSD.Add(int64(usd * 1e9))
}

// OperationCost is one operation's accumulated totals.
type OperationCost struct {
	Calls            int64   `json:"calls"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// CostSnapshot is a point-in-time view of the ledger.
type CostSnapshot struct {
	Operations map[Operation]OperationCost `json:"operations"`
	Total      OperationCost               `json:"total"`
}

// Snapshot returns the current totals per operation plus the grand total.
func (t *CostTracker) Snapshot() CostSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := CostSnapshot{Operations: make(map[Operation]OperationCost, len(t.ops))}
	for op, c := range t.ops {
		oc := OperationCost{
			Calls:            c.calls.Load(),
			PromptTokens:     c.promptTokens.Load(),
			CompletionTokens: c.completionTokens.Load(),
			CostUSD:          float64(c.nanoUSD.Load()) / 1e9,
		}
		snap.Operations[op] = oc
		snap.Total.Calls += oc.Calls
		snap.Total.PromptTokens += oc.PromptTokens
		snap.Total.CompletionTokens += oc.CompletionTokens
		snap.Total.CostUSD += oc.CostUSD
	}
	return snap
}

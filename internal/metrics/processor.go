package metrics

import (
	"context"
	"log/slog"

	"github.com/MikeSquared-Agency/parley/internal/events"
	"github.com/MikeSquared-Agency/parley/internal/store"
)

// Processor accumulates per-agent token usage from the usageMetadata
// counters agents attach to their events. Every stored event with counters
// is counted, including ones a later revision supersedes in the display
// pipeline; usage reflects what the agents actually spent, not what
// survived collapsing.
type Processor struct {
	store store.DataStore
}

func NewProcessor(s store.DataStore) *Processor {
	return &Processor{store: s}
}

// Process implements batcher.EventProcessor.
func (p *Processor) Process(ctx context.Context, e events.Event) {
	if e.Usage == nil {
		return
	}
	if e.Author == "" || e.Author == "user" {
		return
	}

	u := e.Usage
	if u.PromptTokens == 0 && u.CandidateTokens == 0 && u.TotalTokens == 0 {
		return
	}

	if err := p.store.UpsertAgentUsage(ctx, e.Author, e.Time(), u.PromptTokens, u.CandidateTokens, u.TotalTokens); err != nil {
		slog.Error("failed to update agent usage", "agent", e.Author, "error", err)
	}
}

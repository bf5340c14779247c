package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/MikeSquared-Agency/parley/internal/events"
	"github.com/MikeSquared-Agency/parley/internal/testutil"
)

func usageEvent(author string, prompt, candidate, total int) events.Event {
	return events.Event{
		ID:        events.NewID(),
		SessionID: "s1",
		Author:    author,
		Type:      events.TypeAgentResponse,
		Timestamp: 1700000000,
		Usage: &events.Usage{
			PromptTokens:    prompt,
			CandidateTokens: candidate,
			TotalTokens:     total,
		},
	}
}

func TestProcess_AccumulatesUsage(t *testing.T) {
	ms := testutil.NewMockStore()
	p := NewProcessor(ms)

	p.Process(context.Background(), usageEvent("planner", 10, 5, 15))
	p.Process(context.Background(), usageEvent("planner", 20, 10, 30))

	if ms.UpsertUsageCalls != 2 {
		t.Fatalf("expected 2 upserts, got %d", ms.UpsertUsageCalls)
	}

	row, err := ms.GetAgentUsage(context.Background(), "planner")
	if err != nil {
		t.Fatal(err)
	}
	if row["total_tokens"].(int) != 45 {
		t.Errorf("expected 45 total tokens, got %v", row["total_tokens"])
	}
	if row["prompt_tokens"].(int) != 30 {
		t.Errorf("expected 30 prompt tokens, got %v", row["prompt_tokens"])
	}
}

func TestProcess_SkipsIneligibleEvents(t *testing.T) {
	ms := testutil.NewMockStore()
	p := NewProcessor(ms)

	// No usage metadata.
	p.Process(context.Background(), events.Event{ID: "e1", Author: "planner"})
	// User-authored.
	p.Process(context.Background(), usageEvent("user", 10, 5, 15))
	// Anonymous.
	p.Process(context.Background(), usageEvent("", 10, 5, 15))
	// All counters zero.
	p.Process(context.Background(), usageEvent("planner", 0, 0, 0))

	if ms.UpsertUsageCalls != 0 {
		t.Errorf("expected 0 upserts, got %d", ms.UpsertUsageCalls)
	}
}

func TestProcess_StoreFailureDoesNotPanic(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.UpsertUsageErr = errors.New("db down")
	p := NewProcessor(ms)

	p.Process(context.Background(), usageEvent("planner", 10, 5, 15))
}

// Package dedup collapses the revision noise multi-agent backends produce.
// Agents emit several events for the same logical turn as they think out loud
// and then finalize; only the latest revision per invocation should survive.
package dedup

import (
	"sort"

	"github.com/MikeSquared-Agency/parley/internal/events"
)

// Protected reports whether an event must survive collapsing regardless of
// invocation grouping: user-authored events, question/answer traffic, and
// anything carrying the question injection marker (treated as question
// traffic even if mis-typed upstream).
func Protected(e events.Event) bool {
	if e.Author == "user" {
		return true
	}
	if e.Type == events.TypeMCPQuestion || e.Type == events.TypeMCPAnswer {
		return true
	}
	return e.HasQuestionMarker()
}

// Collapse reduces each ordinary invocation group to its latest revision
// while carrying every protected event through untouched. The output is
// always sorted ascending by timestamp regardless of input order.
//
// A single invocation id can legitimately contribute both a protected event
// and an ordinary winner; they are never merged.
func Collapse(evts []events.Event) []events.Event {
	var protected []events.Event
	winners := make(map[string]events.Event)
	var order []string

	for _, e := range evts {
		if Protected(e) {
			protected = append(protected, e)
			continue
		}
		key := e.InvocationID
		if key == "" {
			// No grouping key: never collapse with anything else.
			key = "\x00" + e.ID
		}
		cur, ok := winners[key]
		if !ok {
			winners[key] = e
			order = append(order, key)
			continue
		}
		// Strictly greater replaces; on a tie the first encountered stays.
		if e.Timestamp > cur.Timestamp {
			winners[key] = e
		}
	}

	out := make([]events.Event, 0, len(protected)+len(order))
	out = append(out, protected...)
	for _, key := range order {
		out = append(out, winners[key])
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

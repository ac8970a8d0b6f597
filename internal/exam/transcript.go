// Package exam drives the adaptive exam conversation: an ordered transcript,
// a per-session controller that alternates examiner calls with team answers and
// finishes with one coach call, and a registry of live sessions.
package exam

import "github.com/pavelanni/hybridexam/internal/model"

// Transcript is an append-only, ordered log of turns.
// It is not safe for concurrent use; the owning Controller serializes access.
type Transcript struct {
	turns []model.Turn
}

// Append adds turns in order.
func (t *Transcript) Append(turns ...model.Turn) {
	t.turns = append(t.turns, turns...)
}

// Turns returns a copy of the recorded turns.
func (t *Transcript) Turns() []model.Turn {
	out := make([]model.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of recorded turns.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// Clear drops every turn. Only a new session or a reset may call it.
func (t *Transcript) Clear() {
	t.turns = nil
}

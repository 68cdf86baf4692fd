package council

import (
	"fmt"
	"sync"
	"time"
)

// Thread is the append-only deliberation record for a single request: an
// ordered list of rounds, each an ordered list of exchanges. A thread is
// owned exclusively by the orchestrating component for its request and is
// destroyed by explicit caller-driven cleanup, never automatically.
type Thread struct {
	RequestID string
	Prompt    string
	Started   time.Time

	mu     sync.Mutex
	rounds []Round
	closed bool
}

// NewThread creates an empty deliberation thread for a request.
func NewThread(requestID, prompt string) *Thread {
	return &Thread{
		RequestID: requestID,
		Prompt:    prompt,
		Started:   time.Now(),
	}
}

// AppendRound appends a completed round. Rounds are never rewritten; a
// member's new answer supersedes its previous one by round number only.
func (t *Thread) AppendRound(r Round) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("thread %s is closed", t.RequestID)
	}
	r.Number = len(t.rounds)
	t.rounds = append(t.rounds, r)
	return nil
}

// Rounds returns a copy of the recorded rounds.
func (t *Thread) Rounds() []Round {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Round, len(t.rounds))
	copy(out, t.rounds)
	return out
}

// LastRound returns the most recent round, or false if none exist.
func (t *Thread) LastRound() (Round, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rounds) == 0 {
		return Round{}, false
	}
	return t.rounds[len(t.rounds)-1], true
}

// AllExchanges flattens every round into a single ordered exchange list, the
// input shape the synthesis engine consumes.
func (t *Thread) AllExchanges() []Exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Exchange
	for _, r := range t.rounds {
		out = append(out, r.Exchanges...)
	}
	return out
}

// RoundCount returns the number of recorded rounds.
func (t *Thread) RoundCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rounds)
}

// Close marks the thread destroyed. Retaining a closed thread is a caller
// bug; appends after Close fail.
func (t *Thread) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.rounds = nil
}

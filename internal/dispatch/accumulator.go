package dispatch

import (
	"sync"

	"conclave/internal/council"
)

// accumulator collects successful exchanges for a single request as member
// calls complete. It is created per Distribute call and never shared across
// requests, which makes concurrent processing of unrelated requests safe by
// construction instead of by convention. Once harvested it accepts nothing
// further; late completions are discarded.
type accumulator struct {
	mu        sync.Mutex
	exchanges []council.Exchange
	harvested bool
}

// add records a successful exchange. Returns false if the accumulator has
// already been harvested.
func (a *accumulator) add(ex council.Exchange) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.harvested {
		return false
	}
	a.exchanges = append(a.exchanges, ex)
	return true
}

// harvest returns everything collected so far and tears the accumulator
// down.
func (a *accumulator) harvest() []council.Exchange {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.harvested = true
	out := a.exchanges
	a.exchanges = nil
	return out
}

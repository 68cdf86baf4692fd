// Package health tracks provider failure state shared between the dispatch
// layer and the provider pool. Keeping a single injected tracker prevents the
// two from accumulating divergent consecutive-failure counts.
package health

import (
	"sync"

	"conclave/internal/logging"
)

// DefaultDisableThreshold is the consecutive-failure count at which a
// provider is disabled.
const DefaultDisableThreshold = 3

// Status summarizes a provider's current health.
type Status struct {
	ProviderID   string
	FailureCount int
	Disabled     bool
	Reason       string
}

// Tracker is the single source of truth for consecutive provider failures.
type Tracker struct {
	mu        sync.RWMutex
	threshold int
	failures  map[string]int
	disabled  map[string]string // provider id -> reason
}

// NewTracker creates a tracker that disables providers after threshold
// consecutive failures. A non-positive threshold uses the default.
func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultDisableThreshold
	}
	return &Tracker{
		threshold: threshold,
		failures:  make(map[string]int),
		disabled:  make(map[string]string),
	}
}

// RecordFailure increments the consecutive-failure count for a provider and
// disables it once the threshold is crossed. Returns the new count.
func (t *Tracker) RecordFailure(providerID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures[providerID]++
	count := t.failures[providerID]
	if count >= t.threshold {
		if _, already := t.disabled[providerID]; !already {
			t.disabled[providerID] = "consecutive failure threshold reached"
			logging.Health("provider %s disabled after %d consecutive failures", providerID, count)
		}
	}
	return count
}

// ResetFailureCount clears the consecutive-failure count after a success.
// A reset does not re-enable an explicitly disabled provider.
func (t *Tracker) ResetFailureCount(providerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, providerID)
}

// MarkDisabled disables a provider with an explicit reason.
func (t *Tracker) MarkDisabled(providerID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disabled[providerID] = reason
	logging.Health("provider %s disabled: %s", providerID, reason)
}

// Enable re-enables a provider and clears its failure count.
func (t *Tracker) Enable(providerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.disabled, providerID)
	delete(t.failures, providerID)
}

// IsDisabled reports whether a provider is currently disabled.
func (t *Tracker) IsDisabled(providerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.disabled[providerID]
	return ok
}

// FailureCount returns the current consecutive-failure count.
func (t *Tracker) FailureCount(providerID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failures[providerID]
}

// DisabledReason returns the reason a provider was disabled, if any.
func (t *Tracker) DisabledReason(providerID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	reason, ok := t.disabled[providerID]
	return reason, ok
}

// StatusOf returns a snapshot of a provider's health.
func (t *Tracker) StatusOf(providerID string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	reason, disabled := t.disabled[providerID]
	return Status{
		ProviderID:   providerID,
		FailureCount: t.failures[providerID],
		Disabled:     disabled,
		Reason:       reason,
	}
}

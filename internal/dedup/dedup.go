// Package dedup collapses concurrent identical in-flight provider calls into
// a single execution. This is a correctness requirement, not an optimization:
// when a round is raced against a timeout and also fanned out normally, the
// same member must not be billed twice for the same prompt.
package dedup

import (
	"fmt"
	"hash/fnv"
	"sync"

	"conclave/internal/logging"
)

// call tracks one in-flight execution shared by all duplicate callers.
type call struct {
	done chan struct{}
	val  any
	err  error
}

// Deduplicator tracks in-flight executions keyed by
// (requestID, memberID, prompt hash).
type Deduplicator struct {
	mu       sync.Mutex
	inflight map[string]*call
}

// New creates an empty deduplicator.
func New() *Deduplicator {
	return &Deduplicator{inflight: make(map[string]*call)}
}

// Key builds the deduplication key for a prospective call. The prompt is
// hashed so keys stay bounded regardless of prompt size.
func Key(requestID, memberID, prompt string) string {
	h := fnv.New64a()
	h.Write([]byte(prompt))
	return fmt.Sprintf("%s:%s:%x", requestID, memberID, h.Sum64())
}

// Do executes fn exactly once per distinct in-flight key. Concurrent callers
// with the same key receive the pending result of the first caller's
// execution. The key is removed before the result is delivered, so the
// in-flight count returns to zero on completion (success or failure) and a
// subsequent call with the same key re-executes.
func (d *Deduplicator) Do(requestID, memberID, prompt string, fn func() (any, error)) (any, error) {
	key := Key(requestID, memberID, prompt)

	d.mu.Lock()
	if c, ok := d.inflight[key]; ok {
		d.mu.Unlock()
		logging.DedupDebug("joining in-flight call %s", key)
		<-c.done
		return c.val, c.err
	}
	c := &call{done: make(chan struct{})}
	d.inflight[key] = c
	d.mu.Unlock()

	// Remove the key before releasing waiters; a caller that observes the
	// result must also observe the key gone. Deferred so the key never leaks,
	// even if fn panics.
	defer func() {
		d.mu.Lock()
		delete(d.inflight, key)
		d.mu.Unlock()
		close(c.done)
	}()

	c.val, c.err = fn()
	return c.val, c.err
}

// InFlight returns the number of currently tracked executions.
func (d *Deduplicator) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

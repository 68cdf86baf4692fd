// Package dispatch fans a request out to every active council member,
// enforcing per-member and global deadlines, and collects whatever succeeded.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"conclave/internal/council"
	"conclave/internal/dedup"
	"conclave/internal/health"
	"conclave/internal/logging"
	"conclave/internal/provider"
)

// ErrAllMembersFailed is wrapped into the aggregate error when a distribution
// produces zero successes.
var ErrAllMembersFailed = errors.New("all council members failed")

// Result is the outcome of one fan-out wave.
type Result struct {
	Exchanges []council.Exchange
	// Partial is set when the global deadline fired and only the responses
	// collected so far were harvested. A partial result forces a
	// low-confidence decision downstream; it is not an error.
	Partial bool
}

// Distributor fans prompts out to council members under deadline discipline.
type Distributor struct {
	pool    provider.Pool
	tracker *health.Tracker
	dedup   *dedup.Deduplicator

	// maxConcurrent bounds simultaneous provider calls; 0 means unbounded.
	maxConcurrent int
}

// NewDistributor creates a distributor. The tracker must be the same instance
// the pool reports into.
func NewDistributor(pool provider.Pool, tracker *health.Tracker, dd *dedup.Deduplicator, maxConcurrent int) *Distributor {
	if dd == nil {
		dd = dedup.New()
	}
	if tracker == nil {
		tracker = health.NewTracker(0)
	}
	return &Distributor{pool: pool, tracker: tracker, dedup: dd, maxConcurrent: maxConcurrent}
}

// Distribute launches one call per active member, each raced against the
// member's own timeout, the whole wave raced against globalTimeout.
//
// If the wave completes in time and at least one member succeeded, all
// successful exchanges are returned. Zero successes is an aggregate error
// enumerating every member's failure reason.
//
// If the global deadline fires first the wave is NOT cancelled: it keeps
// running in the background while whatever succeeded so far is harvested and
// returned with Partial set. Responses completing after the harvest are
// discarded.
func (d *Distributor) Distribute(ctx context.Context, requestID, prompt string, members []council.Member, round int, globalTimeout time.Duration) (*Result, error) {
	active := d.activeMembers(members)
	if len(active) == 0 {
		return nil, fmt.Errorf("no active council members")
	}

	rlog := logging.WithRequestID(logging.CategoryDispatch, requestID)
	rlog.Info("distributing round %d to %d members (global timeout %v)", round, len(active), globalTimeout)

	acc := &accumulator{}
	failures := make([]council.Exchange, len(active))

	var g errgroup.Group
	if d.maxConcurrent > 0 {
		g.SetLimit(d.maxConcurrent)
	}
	for i, m := range active {
		g.Go(func() error {
			ex := d.callMember(ctx, requestID, prompt, m, round)
			if ex.Failed {
				failures[i] = ex
				d.tracker.RecordFailure(m.ID)
				return nil
			}
			d.tracker.ResetFailureCount(m.ID)
			if !acc.add(ex) {
				rlog.Warn("member %s completed after harvest; response discarded", m.ID)
			}
			return nil
		})
	}

	waveDone := make(chan struct{})
	go func() {
		// Workers never return errors; failures are per-member data.
		_ = g.Wait()
		close(waveDone)
	}()

	deadline := time.NewTimer(globalTimeout)
	defer deadline.Stop()

	select {
	case <-waveDone:
		exchanges := acc.harvest()
		if len(exchanges) == 0 {
			err := ErrAllMembersFailed
			for _, fx := range failures {
				if fx.Failed {
					err = multierr.Append(err, fmt.Errorf("member %s: %s", fx.MemberID, fx.Err))
				}
			}
			return nil, err
		}
		rlog.Info("round %d complete: %d/%d succeeded", round, len(exchanges), len(active))
		return &Result{Exchanges: exchanges}, nil

	case <-deadline.C:
		// The wave continues in the background; harvesting tears down the
		// accumulator so stragglers are discarded on completion.
		exchanges := acc.harvest()
		rlog.Warn("global deadline fired: harvested %d/%d responses", len(exchanges), len(active))
		return &Result{Exchanges: exchanges, Partial: true}, nil

	case <-ctx.Done():
		acc.harvest()
		return nil, ctx.Err()
	}
}

// callMember executes one deduplicated member call raced against the
// member's own timeout. A timeout produces a synthetic failed exchange with
// empty content; the underlying call is never aborted, and its timer is
// stopped if the real call wins the race.
func (d *Distributor) callMember(ctx context.Context, requestID, prompt string, m council.Member, round int) council.Exchange {
	start := time.Now()

	type callResult struct {
		resp *provider.Response
		err  error
	}
	resultCh := make(chan callResult, 1)

	go func() {
		v, err := d.dedup.Do(requestID, m.ID, prompt, func() (any, error) {
			return d.pool.SendRequest(ctx, m, prompt)
		})
		resp, _ := v.(*provider.Response)
		resultCh <- callResult{resp: resp, err: err}
	}()

	timer := time.NewTimer(m.Timeout())

	select {
	case r := <-resultCh:
		timer.Stop()
		return d.classify(m, r.resp, r.err, round, time.Since(start))

	case <-timer.C:
		logging.DispatchWarn("member %s timed out after %v; call continues in background", m.ID, m.Timeout())
		// Drain the straggler so its goroutine can exit, then discard it.
		go func() {
			r := <-resultCh
			if r.err == nil && r.resp != nil && r.resp.Success {
				logging.DispatchDebug("member %s completed after its timeout; response discarded", m.ID)
			}
		}()
		return council.Exchange{
			MemberID:  m.ID,
			Round:     round,
			Timestamp: time.Now(),
			Latency:   time.Since(start),
			Failed:    true,
			Err:       fmt.Sprintf("timed out after %v", m.Timeout()),
		}
	}
}

// classify turns a raw provider outcome into an exchange.
func (d *Distributor) classify(m council.Member, resp *provider.Response, err error, round int, latency time.Duration) council.Exchange {
	ex := council.Exchange{
		MemberID:  m.ID,
		Round:     round,
		Timestamp: time.Now(),
		Latency:   latency,
	}
	switch {
	case err != nil:
		ex.Failed = true
		ex.Err = err.Error()
	case resp == nil:
		ex.Failed = true
		ex.Err = "provider returned no response"
	case !resp.Success:
		ex.Failed = true
		ex.Err = resp.Err
	default:
		ex.Content = resp.Content
		ex.TokensIn = resp.Usage.Prompt
		ex.TokensOut = resp.Usage.Completion
	}
	return ex
}

// activeMembers filters out disabled members, consulting both the member's
// own flag and the shared health tracker.
func (d *Distributor) activeMembers(members []council.Member) []council.Member {
	var active []council.Member
	for _, m := range council.ActiveMembers(members) {
		if d.tracker != nil && d.tracker.IsDisabled(m.ID) {
			logging.DispatchDebug("skipping disabled member %s", m.ID)
			continue
		}
		active = append(active, m)
	}
	return active
}

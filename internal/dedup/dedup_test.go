package dedup

import (
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// blockedInDo counts goroutines parked on a channel receive inside
// Deduplicator.Do: joiners waiting on the in-flight call's done channel and
// an executor whose fn is blocked on a gate channel.
func blockedInDo() int {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	count := 0
	for _, g := range strings.Split(string(buf[:n]), "\n\n") {
		if strings.Contains(g, "[chan receive]") && strings.Contains(g, "(*Deduplicator).Do(") {
			count++
		}
	}
	return count
}

func TestDoExecutesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := New()
	var calls atomic.Int32

	const workers = 32
	results := make([]any, workers)
	var wg sync.WaitGroup
	release := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := d.Do("req", "member", "prompt", func() (any, error) {
				calls.Add(1)
				<-release
				return "answer", nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Hold the executor's fn open until every worker is provably inside Do —
	// one blocked in fn on the gate, the rest joined on the in-flight call —
	// so the duplicate calls genuinely overlap before the result is released.
	deadline := time.Now().Add(10 * time.Second)
	for blockedInDo() < workers {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d workers converged inside Do", blockedInDo(), workers)
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "duplicate identical calls must collapse to one execution")
	for _, v := range results {
		assert.Equal(t, "answer", v)
	}
	assert.Equal(t, 0, d.InFlight())
}

func TestDoDistinctKeysRunIndependently(t *testing.T) {
	d := New()
	var calls atomic.Int32
	fn := func() (any, error) {
		calls.Add(1)
		return nil, nil
	}

	_, _ = d.Do("req", "member-a", "prompt", fn)
	_, _ = d.Do("req", "member-b", "prompt", fn)
	_, _ = d.Do("req", "member-a", "another prompt", fn)
	_, _ = d.Do("other-req", "member-a", "prompt", fn)

	assert.Equal(t, int32(4), calls.Load())
}

func TestDoErrorSharedAndKeyReleased(t *testing.T) {
	d := New()
	sentinel := errors.New("provider exploded")

	_, err := d.Do("req", "m", "p", func() (any, error) {
		return nil, sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 0, d.InFlight(), "failed call must not leave its key in flight")

	// The key was released; a retry executes afresh.
	v, err := d.Do("req", "m", "p", func() (any, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestDoSameMemberDifferentPromptNotDeduplicated(t *testing.T) {
	d := New()
	var calls atomic.Int32

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.Do("req", "m", "slow prompt", func() (any, error) {
			calls.Add(1)
			return "slow", nil
		})
	}()
	_, _ = d.Do("req", "m", "fast prompt", func() (any, error) {
		calls.Add(1)
		return "fast", nil
	})
	<-done

	assert.Equal(t, int32(2), calls.Load())
}

func TestKeyStability(t *testing.T) {
	a := Key("req", "member", "prompt")
	b := Key("req", "member", "prompt")
	c := Key("req", "member", "Prompt")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

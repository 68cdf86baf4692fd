package health

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordFailureDisablesAtThreshold(t *testing.T) {
	tr := NewTracker(3)

	assert.Equal(t, 1, tr.RecordFailure("p"))
	assert.Equal(t, 2, tr.RecordFailure("p"))
	assert.False(t, tr.IsDisabled("p"))

	assert.Equal(t, 3, tr.RecordFailure("p"))
	assert.True(t, tr.IsDisabled("p"))

	reason, ok := tr.DisabledReason("p")
	assert.True(t, ok)
	assert.NotEmpty(t, reason)
}

func TestResetClearsCountButNotDisabled(t *testing.T) {
	tr := NewTracker(2)
	tr.RecordFailure("p")
	tr.RecordFailure("p")
	assert.True(t, tr.IsDisabled("p"))

	tr.ResetFailureCount("p")
	assert.Equal(t, 0, tr.FailureCount("p"))
	assert.True(t, tr.IsDisabled("p"), "a success resets the count but does not re-enable")
}

func TestSuccessBetweenFailuresPreventsDisable(t *testing.T) {
	tr := NewTracker(3)
	tr.RecordFailure("p")
	tr.RecordFailure("p")
	tr.ResetFailureCount("p")
	tr.RecordFailure("p")
	tr.RecordFailure("p")

	assert.False(t, tr.IsDisabled("p"), "non-consecutive failures must not disable")
}

func TestEnableClearsEverything(t *testing.T) {
	tr := NewTracker(1)
	tr.RecordFailure("p")
	assert.True(t, tr.IsDisabled("p"))

	tr.Enable("p")
	assert.False(t, tr.IsDisabled("p"))
	assert.Equal(t, 0, tr.FailureCount("p"))
}

func TestMarkDisabledWithReason(t *testing.T) {
	tr := NewTracker(5)
	tr.MarkDisabled("p", "operator request")

	st := tr.StatusOf("p")
	assert.True(t, st.Disabled)
	assert.Equal(t, "operator request", st.Reason)
	assert.Equal(t, 0, st.FailureCount)
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tr := NewTracker(1000)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordFailure("p")
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, tr.FailureCount("p"))
}

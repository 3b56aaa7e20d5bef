package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTo(t *Timer, elapsed int) map[Event][]int {
	fired := map[Event][]int{}
	for t.State().Elapsed < elapsed {
		for _, ev := range t.Tick() {
			fired[ev] = append(fired[ev], t.State().Elapsed)
		}
	}
	return fired
}

func TestEvaluate_PromptAtBaseBudget(t *testing.T) {
	b := DefaultBudget()

	s, events := Evaluate(b, State{Elapsed: 1799})
	assert.Empty(t, events)
	assert.False(t, s.Prompted)

	s, events = Evaluate(b, State{Elapsed: 1800})
	assert.Equal(t, []Event{EventExtensionPrompt}, events)
	assert.True(t, s.Prompted)
	assert.True(t, s.AwaitingDecision())
}

func TestEvaluate_PromptTakesPrecedence(t *testing.T) {
	b := DefaultBudget()
	// Jumping straight past the warning window into the base deadline only
	// yields the prompt for that evaluation.
	_, events := Evaluate(b, State{Elapsed: 1800, WarnedFor: 0})
	assert.Equal(t, []Event{EventExtensionPrompt}, events)
}

func TestTimer_WarningBeforeBaseDeadline(t *testing.T) {
	tm := NewTimer(DefaultBudget())
	fired := runTo(tm, 1800)

	assert.Equal(t, []int{1740}, fired[EventOneMinuteWarning])
	assert.Equal(t, []int{1800}, fired[EventExtensionPrompt])
	assert.Empty(t, fired[EventAutoTerminate])
}

func TestTimer_NoAutoTerminateWithoutExtension(t *testing.T) {
	tm := NewTimer(DefaultBudget())
	fired := runTo(tm, 3*3600)

	assert.Len(t, fired[EventExtensionPrompt], 1)
	assert.Empty(t, fired[EventAutoTerminate])
	assert.True(t, tm.State().AwaitingDecision())
}

func TestTimer_ExtendedSession(t *testing.T) {
	tm := NewTimer(DefaultBudget())
	fired := runTo(tm, 1800)
	require.Equal(t, []int{1800}, fired[EventExtensionPrompt])

	events, err := tm.Extend()
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.True(t, tm.State().Extended)
	assert.Equal(t, 2400, tm.Budget().Effective(tm.State().Extended))

	fired = runTo(tm, 2400)
	assert.Equal(t, []int{2340}, fired[EventOneMinuteWarning])
	assert.Equal(t, []int{2400}, fired[EventAutoTerminate])
	assert.Empty(t, fired[EventExtensionPrompt])

	fired = runTo(tm, 2600)
	assert.Empty(t, fired[EventAutoTerminate], "auto-terminate fires once")
}

func TestTimer_ExtendOnlyOnce(t *testing.T) {
	tm := NewTimer(DefaultBudget())
	_, err := tm.Extend()
	assert.ErrorIs(t, err, ErrNoPendingPrompt)

	runTo(tm, 1800)
	_, err = tm.Extend()
	require.NoError(t, err)

	_, err = tm.Extend()
	assert.ErrorIs(t, err, ErrAlreadyExtended)
}

func TestTimer_DeclineClosesPrompt(t *testing.T) {
	tm := NewTimer(DefaultBudget())
	assert.ErrorIs(t, tm.Decline(), ErrNoPendingPrompt)

	runTo(tm, 1800)
	require.NoError(t, tm.Decline())
	assert.False(t, tm.State().AwaitingDecision())

	_, err := tm.Extend()
	assert.ErrorIs(t, err, ErrNoPendingPrompt)
}

func TestTimer_LateExtensionRearmsWarning(t *testing.T) {
	tm := NewTimer(DefaultBudget())
	runTo(tm, 2350)

	events, err := tm.Extend()
	require.NoError(t, err)
	assert.Equal(t, []Event{EventOneMinuteWarning}, events)
}

func TestTimer_AdvanceIsMonotonic(t *testing.T) {
	tm := NewTimerAt(DefaultBudget(), 100)
	tm.AdvanceTo(50)
	assert.Equal(t, 100, tm.State().Elapsed)
	assert.Equal(t, 1700, tm.State().Remaining(tm.Budget()))
}

// Feeds irregular elapsed sequences and answers prompts at random points.
func TestTimer_Properties(t *testing.T) {
	sequences := [][]int{
		{1, 2, 3, 1799, 1800, 1801, 5000},
		{1800, 1800, 1800, 2400, 9999},
		{600, 1200, 1740, 1741, 1800, 2339, 2340, 2399, 2400},
		{0, 10000},
	}
	for i, seq := range sequences {
		for _, extendAt := range []int{-1, 1800, 1801, 2500} {
			tm := NewTimer(DefaultBudget())
			prompts := 0
			promptedFirst := true
			for _, e := range seq {
				for _, ev := range tm.AdvanceTo(e) {
					switch ev {
					case EventExtensionPrompt:
						assert.False(t, tm.State().Extended, "seq %d: prompt only while un-extended", i)
						prompts++
					case EventAutoTerminate:
						if prompts == 0 {
							promptedFirst = false
						}
						assert.True(t, tm.State().Extended, "seq %d: terminate requires extension", i)
					}
				}
				if extendAt >= 0 && e >= extendAt && tm.State().AwaitingDecision() {
					_, _ = tm.Extend()
				}
			}
			assert.LessOrEqual(t, prompts, 1, "seq %d", i)
			assert.True(t, promptedFirst, "seq %d", i)
		}
	}
}

func TestRestore_KeepsExtension(t *testing.T) {
	tm := NewTimer(DefaultBudget())
	tm.AdvanceTo(1800)
	_, err := tm.Extend()
	require.NoError(t, err)

	resumed := Restore(DefaultBudget(), tm.State(), 2000)
	assert.Equal(t, 2000, resumed.State().Elapsed)
	assert.True(t, resumed.State().Extended)
	assert.Empty(t, resumed.AdvanceTo(2001))
	_, err = resumed.Extend()
	assert.ErrorIs(t, err, ErrAlreadyExtended)

	assert.Equal(t, 2100, Restore(DefaultBudget(), State{Elapsed: 2100}, 10).State().Elapsed)
}

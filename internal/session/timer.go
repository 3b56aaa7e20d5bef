// Package session holds the consultation clock. Evaluate is a pure function of
// the budget and the current State, so tests can feed it synthetic elapsed
// sequences without any real time passing.
package session

import (
	"errors"
)

// Event is raised by the clock as elapsed time crosses a threshold.
type Event string

const (
	EventExtensionPrompt  Event = "extension_prompt"
	EventOneMinuteWarning Event = "one_minute_warning"
	EventAutoTerminate    Event = "auto_terminate"
)

var (
	ErrNoPendingPrompt = errors.New("no extension prompt is awaiting an answer")
	ErrAlreadyExtended = errors.New("session has already been extended")
)

// Budget configures the clock, in seconds.
type Budget struct {
	Base      int `json:"baseSeconds"`
	Extension int `json:"extensionSeconds"`
	Warning   int `json:"warningSeconds"`
}

// DefaultBudget is 30 minutes plus one 10 minute extension, warned one minute out.
func DefaultBudget() Budget {
	return Budget{Base: 1800, Extension: 600, Warning: 60}
}

// Effective returns the total allowed duration for the given extension flag.
func (b Budget) Effective(extended bool) int {
	if extended {
		return b.Base + b.Extension
	}
	return b.Base
}

// State is everything the clock remembers between evaluations.
type State struct {
	Elapsed  int  `json:"elapsedSeconds"`
	Extended bool `json:"extended"`
	// Prompted is set once the extension prompt has fired.
	Prompted bool `json:"prompted"`
	// Answered is set once the prompt has been answered either way.
	Answered bool `json:"answered"`
	// WarnedFor is the effective budget the one-minute warning last fired for;
	// a change of budget re-arms the warning.
	WarnedFor  int  `json:"warnedFor"`
	Terminated bool `json:"terminated"`
}

// AwaitingDecision reports whether the prompt fired and has not been answered.
func (s State) AwaitingDecision() bool {
	return s.Prompted && !s.Answered
}

// Remaining returns the seconds left before the effective budget, never negative.
func (s State) Remaining(b Budget) int {
	r := b.Effective(s.Extended) - s.Elapsed
	if r < 0 {
		return 0
	}
	return r
}

// Evaluate computes the events due at s.Elapsed and the updated state.
//
// An un-extended session never terminates on its own: reaching the base
// budget raises the extension prompt instead, and the session keeps running
// until someone answers it.
func Evaluate(b Budget, s State) (State, []Event) {
	var events []Event

	if !s.Extended && !s.Prompted && s.Elapsed >= b.Base {
		s.Prompted = true
		// The prompt wins the tick; nothing else is evaluated.
		return s, append(events, EventExtensionPrompt)
	}

	effective := b.Effective(s.Extended)
	if s.WarnedFor != effective && s.Elapsed >= effective-b.Warning && s.Elapsed < effective {
		s.WarnedFor = effective
		events = append(events, EventOneMinuteWarning)
	}

	if s.Extended && !s.Terminated && s.Elapsed >= effective {
		s.Terminated = true
		events = append(events, EventAutoTerminate)
	}

	return s, events
}

// Timer is a mutable wrapper around State for a single session. It is not
// safe for concurrent use; the owning session serialises access.
type Timer struct {
	budget Budget
	state  State
}

// NewTimer returns a clock at zero elapsed seconds.
func NewTimer(b Budget) *Timer {
	return &Timer{budget: b}
}

// NewTimerAt returns a clock that resumes at the given elapsed seconds.
func NewTimerAt(b Budget, elapsed int) *Timer {
	if elapsed < 0 {
		elapsed = 0
	}
	return &Timer{budget: b, state: State{Elapsed: elapsed}}
}

// Restore returns a clock continuing from a saved state. Elapsed is raised
// to atLeast when that is later, so a resumed session keeps the extension
// and prompt flags it already had.
func Restore(b Budget, st State, atLeast int) *Timer {
	if st.Elapsed < atLeast {
		st.Elapsed = atLeast
	}
	return &Timer{budget: b, state: st}
}

// Tick advances the clock by one second.
func (t *Timer) Tick() []Event {
	return t.AdvanceTo(t.state.Elapsed + 1)
}

// AdvanceTo moves the clock forward to elapsed. Moving backwards is ignored so
// elapsed stays monotonic, but the current second is still evaluated.
func (t *Timer) AdvanceTo(elapsed int) []Event {
	if elapsed > t.state.Elapsed {
		t.state.Elapsed = elapsed
	}
	var events []Event
	t.state, events = Evaluate(t.budget, t.state)
	return events
}

// Extend answers a pending prompt with "extend".
func (t *Timer) Extend() ([]Event, error) {
	if t.state.Extended {
		return nil, ErrAlreadyExtended
	}
	if !t.state.AwaitingDecision() {
		return nil, ErrNoPendingPrompt
	}
	t.state.Extended = true
	t.state.Answered = true
	var events []Event
	t.state, events = Evaluate(t.budget, t.state)
	return events, nil
}

// Decline answers a pending prompt with "end now".
func (t *Timer) Decline() error {
	if !t.state.AwaitingDecision() {
		return ErrNoPendingPrompt
	}
	t.state.Answered = true
	return nil
}

// State returns a copy of the clock state.
func (t *Timer) State() State {
	return t.state
}

// Budget returns the clock configuration.
func (t *Timer) Budget() Budget {
	return t.budget
}

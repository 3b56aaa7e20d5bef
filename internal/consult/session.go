package consult

import (
	"sync"
	"time"

	"teleconsult-server/internal/models"
	"teleconsult-server/internal/session"
)

// Phase is where a live session is in its shutdown.
type Phase string

const (
	PhaseActive        Phase = "active"
	PhaseFinishing     Phase = "finishing"
	PhaseCommitPending Phase = "commit_pending"
	PhaseFinished      Phase = "finished"
)

// Snapshot is a read-only view of a session.
type Snapshot struct {
	AppointmentID       string                `json:"appointmentId"`
	Phase               Phase                 `json:"phase"`
	Clock               session.State         `json:"clock"`
	Budget              session.Budget        `json:"budget"`
	EffectiveBudget     int                   `json:"effectiveBudget"`
	Remaining           int                   `json:"remainingSeconds"`
	AwaitingDecision    bool                  `json:"awaitingDecision"`
	ConfirmationPending bool                  `json:"confirmationPending"`
	Record              *models.MedicalRecord `json:"record,omitempty"`
	LastError           string                `json:"lastError,omitempty"`
}

// Session is the live state of one ONLINE appointment being conducted.
type Session struct {
	mu sync.Mutex

	appt  models.Appointment
	timer *session.Timer
	phase Phase
	// endRequested is set while an end waits for confirmation of the AI summary.
	endRequested bool
	record       *models.MedicalRecord
	lastErr      error
	// retryQueued is set while a commit job for the session is in the queue.
	retryQueued bool

	origin   time.Time
	done     chan struct{}
	stopOnce sync.Once
}

func newSession(a models.Appointment, timer *session.Timer, origin time.Time) *Session {
	return &Session{
		appt:   a,
		timer:  timer,
		phase:  PhaseActive,
		origin: origin,
		done:   make(chan struct{}),
	}
}

// AppointmentID returns the id of the appointment being conducted.
func (s *Session) AppointmentID() string { return s.appt.ID }

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	st := s.timer.State()
	b := s.timer.Budget()
	snap := Snapshot{
		AppointmentID:       s.appt.ID,
		Phase:               s.phase,
		Clock:               st,
		Budget:              b,
		EffectiveBudget:     b.Effective(st.Extended),
		Remaining:           st.Remaining(b),
		AwaitingDecision:    st.AwaitingDecision(),
		ConfirmationPending: s.endRequested,
		Record:              s.record,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

func (s *Session) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

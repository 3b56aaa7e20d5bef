// Package consult runs live consultations. It drives the session clock and
// reacts to its events with lifecycle transitions and the one-time record
// commit, and it tears sessions down when they finish or are abandoned.
package consult

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"teleconsult-server/internal/appointment"
	"teleconsult-server/internal/draft"
	"teleconsult-server/internal/events"
	"teleconsult-server/internal/media"
	"teleconsult-server/internal/models"
	"teleconsult-server/internal/presence"
	"teleconsult-server/internal/queue"
	"teleconsult-server/internal/session"
)

var (
	ErrNoSession            = errors.New("no active session for appointment")
	ErrConfirmationRequired = errors.New("draft carries an AI summary; confirm before ending")
	ErrNothingToConfirm     = errors.New("no end is waiting for confirmation")
	ErrCommitPending        = errors.New("medical record commit is still pending")
	ErrNotOngoing           = errors.New("appointment is not ongoing")
	ErrCommitInFlight       = errors.New("record commit already in flight")
)

// Orchestrator owns the live sessions of this process.
type Orchestrator struct {
	appts    *appointment.Manager
	drafts   *draft.Manager
	channel  *presence.Channel
	queue    queue.Queue
	events   events.Publisher
	notifier Notifier
	media    *media.Tracker
	budget   session.Budget
	tick     time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	// suspended keeps the clock of sessions torn down without finishing so a
	// resume does not grant a second extension.
	suspended map[string]session.State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithBudget(b session.Budget) Option      { return func(o *Orchestrator) { o.budget = b } }
func WithQueue(q queue.Queue) Option          { return func(o *Orchestrator) { o.queue = q } }
func WithPublisher(p events.Publisher) Option { return func(o *Orchestrator) { o.events = p } }
func WithNotifier(n Notifier) Option          { return func(o *Orchestrator) { o.notifier = n } }
func WithMediaTracker(t *media.Tracker) Option {
	return func(o *Orchestrator) { o.media = t }
}

// WithTicker drives every session from a wall-clock ticker. Without it the
// clock only moves through Tick and AdvanceTo.
func WithTicker(interval time.Duration) Option { return func(o *Orchestrator) { o.tick = interval } }

// New creates an Orchestrator.
func New(appts *appointment.Manager, drafts *draft.Manager, channel *presence.Channel, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		appts:     appts,
		drafts:    drafts,
		channel:   channel,
		notifier:  nopNotifier{},
		media:     media.NewTracker(),
		budget:    session.DefaultBudget(),
		log:       log.With().Str("component", "consult").Logger(),
		now:       time.Now,
		sessions:  make(map[string]*Session),
		suspended: make(map[string]session.State),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start moves the appointment to ONGOING and opens its session at zero
// elapsed seconds.
func (o *Orchestrator) Start(ctx context.Context, actor models.Actor, appointmentID string) (Snapshot, error) {
	a, err := o.appts.Start(ctx, actor, appointmentID)
	if err != nil {
		return Snapshot{}, err
	}
	origin := o.now()
	if a.StartedAt != nil {
		origin = *a.StartedAt
	}
	s := newSession(*a, session.NewTimer(o.budget), origin)
	o.open(ctx, actor, s)
	return s.Snapshot(), nil
}

// Resume reopens the session of an ONGOING appointment after an
// interruption. The clock continues from the appointment's start time.
func (o *Orchestrator) Resume(ctx context.Context, actor models.Actor, appointmentID string) (Snapshot, error) {
	if s := o.lookup(appointmentID); s != nil {
		if err := clinician(actor, &s.appt); err != nil {
			return Snapshot{}, err
		}
		s.mu.Lock()
		phase := s.phase
		s.mu.Unlock()
		if phase == PhaseCommitPending || phase == PhaseFinishing {
			return Snapshot{}, ErrCommitPending
		}
		o.setPresence(ctx, appointmentID, actor, true)
		return s.Snapshot(), nil
	}

	a, err := o.appts.Get(ctx, actor, appointmentID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := clinician(actor, a); err != nil {
		return Snapshot{}, err
	}
	if a.Status != models.StatusOngoing {
		return Snapshot{}, fmt.Errorf("%w: resume from %s", appointment.ErrInvalidTransition, a.Status)
	}
	if _, err := o.drafts.Record(ctx, appointmentID); err == nil {
		// The record exists but the status write did not land.
		return Snapshot{}, ErrCommitPending
	}

	origin := o.now()
	if a.StartedAt != nil {
		origin = *a.StartedAt
	}
	elapsed := int(o.now().Sub(origin) / time.Second)

	o.mu.Lock()
	prev, ok := o.suspended[appointmentID]
	delete(o.suspended, appointmentID)
	o.mu.Unlock()

	timer := session.NewTimerAt(o.budget, elapsed)
	if ok {
		timer = session.Restore(o.budget, prev, elapsed)
	}
	s := newSession(*a, timer, origin)
	o.open(ctx, actor, s)

	if _, err := o.advance(ctx, s, timer.State().Elapsed); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

func (o *Orchestrator) open(ctx context.Context, actor models.Actor, s *Session) {
	o.mu.Lock()
	if old, ok := o.sessions[s.appt.ID]; ok {
		old.stop()
	}
	o.sessions[s.appt.ID] = s
	o.mu.Unlock()

	o.setPresence(ctx, s.appt.ID, actor, true)
	o.log.Info().Str("appointment_id", s.appt.ID).Int("elapsed", s.timer.State().Elapsed).Msg("session opened")
	o.notify(NoteSessionStarted, s.Snapshot(), nil)

	if o.tick > 0 {
		go o.run(s)
	}
}

// Session returns the snapshot of the appointment's live session.
func (o *Orchestrator) Session(ctx context.Context, actor models.Actor, appointmentID string) (Snapshot, error) {
	s, err := o.participant(actor, appointmentID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// Tick advances the session clock by one second.
func (o *Orchestrator) Tick(ctx context.Context, appointmentID string) ([]session.Event, error) {
	s := o.lookup(appointmentID)
	if s == nil {
		return nil, ErrNoSession
	}
	return o.advance(ctx, s, -1)
}

// AdvanceTo moves the session clock to elapsed seconds.
func (o *Orchestrator) AdvanceTo(ctx context.Context, appointmentID string, elapsed int) ([]session.Event, error) {
	s := o.lookup(appointmentID)
	if s == nil {
		return nil, ErrNoSession
	}
	return o.advance(ctx, s, elapsed)
}

// advance moves the clock to elapsed, or by one tick when elapsed is
// negative, and acts on the events it raises.
func (o *Orchestrator) advance(ctx context.Context, s *Session, elapsed int) ([]session.Event, error) {
	s.mu.Lock()
	if s.phase != PhaseActive {
		s.mu.Unlock()
		return nil, nil
	}
	var evs []session.Event
	if elapsed >= 0 {
		evs = s.timer.AdvanceTo(elapsed)
	} else {
		evs = s.timer.Tick()
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	for _, ev := range evs {
		o.notify(string(ev), snap, nil)
	}
	if lo.Contains(evs, session.EventAutoTerminate) {
		o.log.Info().Str("appointment_id", s.appt.ID).Int("elapsed", snap.Clock.Elapsed).Msg("auto-terminating session")
		if _, err := o.finish(ctx, models.SystemActor(), s); err != nil {
			return evs, err
		}
	}
	return evs, nil
}

func (o *Orchestrator) run(s *Session) {
	t := time.NewTicker(o.tick)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			elapsed := int(o.now().Sub(s.origin) / time.Second)
			if _, err := o.advance(context.Background(), s, elapsed); err != nil {
				o.log.Warn().Err(err).Str("appointment_id", s.appt.ID).Msg("tick failed")
			}
		}
	}
}

// Extend answers the extension prompt with "extend".
func (o *Orchestrator) Extend(ctx context.Context, actor models.Actor, appointmentID string) (Snapshot, error) {
	s, err := o.clinicianSession(actor, appointmentID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	if s.phase != PhaseActive {
		s.mu.Unlock()
		return Snapshot{}, ErrCommitPending
	}
	evs, err := s.timer.Extend()
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	s.endRequested = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	o.log.Info().Str("appointment_id", appointmentID).Int("budget", snap.EffectiveBudget).Msg("session extended")
	o.notify(NoteExtended, snap, nil)
	for _, ev := range evs {
		o.notify(string(ev), snap, nil)
	}
	return snap, nil
}

// EndNow answers the extension prompt with "end now".
func (o *Orchestrator) EndNow(ctx context.Context, actor models.Actor, appointmentID string) (Snapshot, error) {
	s, err := o.clinicianSession(actor, appointmentID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	awaiting := s.timer.State().AwaitingDecision()
	s.mu.Unlock()
	if !awaiting {
		return Snapshot{}, session.ErrNoPendingPrompt
	}
	return o.end(ctx, actor, s)
}

// RequestEnd is the clinician's explicit end of the session.
func (o *Orchestrator) RequestEnd(ctx context.Context, actor models.Actor, appointmentID string) (Snapshot, error) {
	s, err := o.clinicianSession(actor, appointmentID)
	if err != nil {
		return Snapshot{}, err
	}
	return o.end(ctx, actor, s)
}

// end finishes at once unless the draft carries an AI summary, in which case
// it records the request and returns ErrConfirmationRequired.
func (o *Orchestrator) end(ctx context.Context, actor models.Actor, s *Session) (Snapshot, error) {
	s.mu.Lock()
	phase := s.phase
	s.mu.Unlock()
	if phase == PhaseActive {
		d, err := o.drafts.Load(ctx, s.appt.ID)
		if err != nil {
			return Snapshot{}, err
		}
		if d.HasAISummary() {
			s.mu.Lock()
			s.endRequested = true
			snap := s.snapshotLocked()
			s.mu.Unlock()
			o.notify(NoteConfirmationRequired, snap, map[string]string{"aiSummary": d.AISummary})
			return snap, ErrConfirmationRequired
		}
	}
	return o.finishAnswering(ctx, actor, s)
}

// ConfirmEnd confirms an end that was held back for the AI summary.
func (o *Orchestrator) ConfirmEnd(ctx context.Context, actor models.Actor, appointmentID string) (Snapshot, error) {
	s, err := o.clinicianSession(actor, appointmentID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	requested := s.endRequested
	s.mu.Unlock()
	if !requested {
		return Snapshot{}, ErrNothingToConfirm
	}
	return o.finishAnswering(ctx, actor, s)
}

func (o *Orchestrator) finishAnswering(ctx context.Context, actor models.Actor, s *Session) (Snapshot, error) {
	s.mu.Lock()
	if s.timer.State().AwaitingDecision() {
		_ = s.timer.Decline()
	}
	s.mu.Unlock()
	return o.finish(ctx, actor, s)
}

// RetryCommit retries the finish of a session whose record commit failed.
func (o *Orchestrator) RetryCommit(ctx context.Context, actor models.Actor, appointmentID string) (Snapshot, error) {
	s, err := o.clinicianSession(actor, appointmentID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	phase := s.phase
	s.mu.Unlock()
	if phase != PhaseCommitPending {
		return s.Snapshot(), nil
	}
	return o.finish(ctx, actor, s)
}

// finish commits the draft and moves the appointment to FINISHED. It is
// idempotent: while a finish is in flight or after it succeeded, further
// calls return the current snapshot without committing again.
func (o *Orchestrator) finish(ctx context.Context, actor models.Actor, s *Session) (Snapshot, error) {
	s.mu.Lock()
	if s.phase == PhaseFinishing || s.phase == PhaseFinished {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	prev := s.phase
	s.phase = PhaseFinishing
	s.endRequested = false
	s.mu.Unlock()

	rec, err := o.commitAndFinish(ctx, actor, s.appt.ID)

	s.mu.Lock()
	if err != nil {
		if errors.Is(err, appointment.ErrForbidden) || errors.Is(err, appointment.ErrInvalidTransition) {
			s.phase = prev
			s.mu.Unlock()
			return Snapshot{}, err
		}
		s.phase = PhaseCommitPending
		s.lastErr = err
		snap := s.snapshotLocked()
		s.mu.Unlock()
		o.commitPending(ctx, s, err)
		return snap, fmt.Errorf("%w: %w", ErrCommitPending, err)
	}
	s.phase = PhaseFinished
	s.record = rec
	s.lastErr = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	o.teardown(ctx, s)
	o.log.Info().Str("appointment_id", s.appt.ID).Str("visit_id", rec.ID).Msg("session finished")
	o.notify(NoteFinished, snap, nil)
	return snap, nil
}

// commitAndFinish runs the lifecycle finish with the draft commit as its
// precondition. An appointment that another caller already finished yields
// its existing record.
func (o *Orchestrator) commitAndFinish(ctx context.Context, actor models.Actor, appointmentID string) (*models.MedicalRecord, error) {
	var rec *models.MedicalRecord
	_, err := o.appts.Finish(ctx, actor, appointmentID, func(ctx context.Context, a *models.Appointment) error {
		d, err := o.drafts.Load(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("%w: %v", draft.ErrCommitFailed, err)
		}
		rec, err = o.drafts.Commit(ctx, a, d)
		return err
	})
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, appointment.ErrInvalidTransition) {
		cur, gerr := o.appts.Get(ctx, models.SystemActor(), appointmentID)
		if gerr == nil && cur.Status == models.StatusFinished {
			if existing, rerr := o.drafts.Record(ctx, appointmentID); rerr == nil {
				return existing, nil
			}
		}
	}
	return nil, err
}

// commitPending reports a failed commit and makes sure a retry job is
// queued. A session has at most one job outstanding; it stays outstanding
// until the worker acknowledges it.
func (o *Orchestrator) commitPending(ctx context.Context, s *Session, cause error) {
	log := o.log.With().Str("appointment_id", s.appt.ID).Logger()
	log.Error().Err(cause).Msg("record commit pending")
	o.notify(NoteCommitPending, s.Snapshot(), map[string]string{"error": cause.Error()})

	if o.queue != nil {
		s.mu.Lock()
		enqueue := !s.retryQueued
		s.retryQueued = true
		s.mu.Unlock()
		if enqueue {
			if err := o.queue.Enqueue(ctx, queue.CommitJob{AppointmentID: s.appt.ID}); err != nil {
				log.Error().Err(err).Msg("could not enqueue commit retry")
				s.mu.Lock()
				s.retryQueued = false
				s.mu.Unlock()
			}
		}
	}
	if o.events != nil {
		err := o.events.Publish(ctx, events.Event{
			Type:          events.TypeCommitPending,
			AppointmentID: s.appt.ID,
			Attributes:    map[string]string{"error": cause.Error()},
			OccurredAt:    o.now().UTC(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("publish failed")
		}
	}
}

// ProcessCommitJob is the retry queue handler. It finishes the appointment
// through the live session when there is one, and directly otherwise. While
// another finish of the session is in flight the job is handed back to the
// queue with ErrCommitInFlight.
func (o *Orchestrator) ProcessCommitJob(ctx context.Context, job queue.CommitJob) error {
	if s := o.lookup(job.AppointmentID); s != nil {
		s.mu.Lock()
		phase := s.phase
		switch phase {
		case PhaseFinishing:
			s.mu.Unlock()
			return ErrCommitInFlight
		case PhaseCommitPending:
		default:
			s.retryQueued = false
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		if _, err := o.finish(ctx, models.SystemActor(), s); err != nil {
			return err
		}
		s.mu.Lock()
		s.retryQueued = false
		s.mu.Unlock()
		return nil
	}

	_, err := o.commitAndFinish(ctx, models.SystemActor(), job.AppointmentID)
	if errors.Is(err, appointment.ErrInvalidTransition) || errors.Is(err, appointment.ErrNotFound) {
		o.log.Warn().Err(err).Str("appointment_id", job.AppointmentID).Msg("commit job no longer applicable")
		return nil
	}
	return err
}

// Leave handles a participant closing the session: presence goes offline
// and, for the clinician, the clock stops. The appointment stays ONGOING and
// the draft is kept for a resume.
func (o *Orchestrator) Leave(ctx context.Context, actor models.Actor, appointmentID string) error {
	a, err := o.appts.Get(ctx, actor, appointmentID)
	if err != nil {
		return err
	}
	if actor.Role == models.RolePatient {
		o.setPresence(ctx, appointmentID, actor, false)
		o.cleanup(ctx, appointmentID)
		return nil
	}
	if err := clinician(actor, a); err != nil {
		return err
	}

	if s := o.lookup(appointmentID); s != nil {
		s.mu.Lock()
		phase := s.phase
		st := s.timer.State()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		if phase == PhaseActive {
			o.mu.Lock()
			o.suspended[appointmentID] = st
			o.mu.Unlock()
			o.teardown(ctx, s)
			o.notify(NoteSessionClosed, snap, nil)
			return nil
		}
	}
	o.setPresence(ctx, appointmentID, models.Actor{SubjectID: a.DoctorID, Role: models.RoleDoctor}, false)
	o.cleanup(ctx, appointmentID)
	return nil
}

// teardown stops the clock, clears the clinician's presence and releases
// channel resources if both participants are gone.
func (o *Orchestrator) teardown(ctx context.Context, s *Session) {
	s.stop()
	o.mu.Lock()
	if cur, ok := o.sessions[s.appt.ID]; ok && cur == s {
		delete(o.sessions, s.appt.ID)
	}
	o.mu.Unlock()

	o.setPresence(ctx, s.appt.ID, models.Actor{SubjectID: s.appt.DoctorID, Role: models.RoleDoctor}, false)
	o.cleanup(ctx, s.appt.ID)
	o.media.Forget(s.appt.ID)
}

func (o *Orchestrator) cleanup(ctx context.Context, appointmentID string) {
	if _, err := o.channel.CleanupIfEmpty(ctx, appointmentID); err != nil {
		o.log.Warn().Err(err).Str("appointment_id", appointmentID).Msg("channel cleanup failed")
	}
}

// SetPresence records a participant's presence. The clinician can only be
// online while the appointment is ONGOING.
func (o *Orchestrator) SetPresence(ctx context.Context, actor models.Actor, appointmentID string, online bool) error {
	a, err := o.appts.Get(ctx, actor, appointmentID)
	if err != nil {
		return err
	}
	if actor.Role == models.RoleDoctor && online && a.Status != models.StatusOngoing {
		return ErrNotOngoing
	}
	return o.channel.SetPresence(ctx, appointmentID, actor.Role, online)
}

func (o *Orchestrator) setPresence(ctx context.Context, appointmentID string, actor models.Actor, online bool) {
	if !actor.Role.IsParticipant() {
		return
	}
	if err := o.channel.SetPresence(ctx, appointmentID, actor.Role, online); err != nil {
		o.log.Warn().Err(err).Str("appointment_id", appointmentID).Str("role", string(actor.Role)).Msg("presence update failed")
	}
}

// ReportMedia records what the reporter's media client sees of the remote side.
func (o *Orchestrator) ReportMedia(ctx context.Context, actor models.Actor, appointmentID string, sig media.Signals) error {
	if _, err := o.participant(actor, appointmentID); err != nil {
		return err
	}
	if o.media.Report(appointmentID, string(actor.Role), sig) {
		o.notify(NoteMedia, Snapshot{AppointmentID: appointmentID}, map[string]any{
			"reporter":        actor.Role,
			"remoteVideo":     sig.RemoteVideo,
			"remoteConnected": sig.RemoteConnected,
		})
	}
	return nil
}

// NotifyPresence forwards a presence change to the session's participants.
func (o *Orchestrator) NotifyPresence(st models.PresenceState) {
	o.notify(NotePresence, Snapshot{AppointmentID: st.AppointmentID}, st)
}

func (o *Orchestrator) notify(typ string, snap Snapshot, payload any) {
	n := Notification{Type: typ, AppointmentID: snap.AppointmentID, Payload: payload, At: o.now().UTC()}
	if snap.Phase != "" {
		n.Session = &snap
	}
	o.notifier.Notify(n)
}

func (o *Orchestrator) lookup(appointmentID string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[appointmentID]
}

func (o *Orchestrator) participant(actor models.Actor, appointmentID string) (*Session, error) {
	s := o.lookup(appointmentID)
	if s == nil {
		return nil, ErrNoSession
	}
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleSystem && !s.appt.Involves(actor.SubjectID) {
		return nil, appointment.ErrForbidden
	}
	return s, nil
}

func (o *Orchestrator) clinicianSession(actor models.Actor, appointmentID string) (*Session, error) {
	s := o.lookup(appointmentID)
	if s == nil {
		return nil, ErrNoSession
	}
	if err := clinician(actor, &s.appt); err != nil {
		return nil, err
	}
	return s, nil
}

func clinician(actor models.Actor, a *models.Appointment) error {
	switch {
	case actor.Role == models.RoleAdmin, actor.Role == models.RoleSystem:
		return nil
	case actor.Role == models.RoleDoctor && actor.SubjectID == a.DoctorID:
		return nil
	}
	return fmt.Errorf("%w: only the appointment's doctor can control the session", appointment.ErrForbidden)
}

// Package appointment owns the appointment status and validates every
// transition against the lifecycle table before it reaches the store.
package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"teleconsult-server/internal/events"
	"teleconsult-server/internal/models"
)

// CommitFunc runs inside Finish before the status change is written. If it
// fails the appointment stays ONGOING.
type CommitFunc func(ctx context.Context, a *models.Appointment) error

// Manager executes lifecycle transitions.
type Manager struct {
	store  Store
	events events.Publisher
	log    zerolog.Logger
	now    func() time.Time
}

// NewManager creates a new Manager.
func NewManager(store Store, pub events.Publisher, log zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		events: pub,
		log:    log.With().Str("component", "appointment").Logger(),
		now:    time.Now,
	}
}

// BookRequest carries what the booking collaborator needs to create an appointment.
type BookRequest struct {
	DoctorID      string
	PatientID     string
	Type          models.AppointmentType
	ScheduledDate time.Time
	Slot          models.Slot
	Reason        string
}

// Book creates a PENDING appointment.
func (m *Manager) Book(ctx context.Context, actor models.Actor, req BookRequest) (*models.Appointment, error) {
	if actor.Role == models.RolePatient && actor.SubjectID != req.PatientID {
		return nil, fmt.Errorf("%w: patients can only book for themselves", ErrForbidden)
	}
	if actor.Role != models.RolePatient && actor.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if !req.Slot.IsValid() {
		return nil, fmt.Errorf("%w: unknown slot %q", ErrInvalidBooking, req.Slot)
	}
	if req.Type != models.TypeOnline && req.Type != models.TypeOffline {
		return nil, fmt.Errorf("%w: unknown appointment type %q", ErrInvalidBooking, req.Type)
	}
	start, err := req.Slot.StartOn(req.ScheduledDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBooking, err)
	}
	if start.Before(m.now()) {
		return nil, fmt.Errorf("%w: appointment slot must be in the future", ErrInvalidBooking)
	}

	taken, err := m.store.SlotTaken(ctx, req.DoctorID, req.ScheduledDate, req.Slot)
	if err != nil {
		return nil, fmt.Errorf("check slot: %w", err)
	}
	if taken {
		return nil, ErrSlotTaken
	}

	a := &models.Appointment{
		DoctorID:      req.DoctorID,
		PatientID:     req.PatientID,
		Type:          req.Type,
		ScheduledDate: req.ScheduledDate,
		Slot:          req.Slot,
		Status:        models.StatusPending,
		Reason:        strings.TrimSpace(req.Reason),
	}
	if err := m.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	m.log.Info().Str("appointment_id", a.ID).Str("doctor_id", a.DoctorID).Str("slot", string(a.Slot)).Msg("appointment booked")
	return a, nil
}

// Get returns an appointment the actor takes part in.
func (m *Manager) Get(ctx context.Context, actor models.Actor, id string) (*models.Appointment, error) {
	a, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleSystem && !a.Involves(actor.SubjectID) {
		return nil, ErrForbidden
	}
	return a, nil
}

// List returns the appointments visible to the actor.
func (m *Manager) List(ctx context.Context, actor models.Actor) ([]models.Appointment, error) {
	return m.store.ListForSubject(ctx, actor.SubjectID, actor.Role)
}

// Confirm moves PENDING to CONFIRMED.
func (m *Manager) Confirm(ctx context.Context, actor models.Actor, id string) (*models.Appointment, error) {
	return m.apply(ctx, actor, id, ActionConfirm, nil)
}

// Deny moves PENDING to DENIED.
func (m *Manager) Deny(ctx context.Context, actor models.Actor, id string) (*models.Appointment, error) {
	return m.apply(ctx, actor, id, ActionDeny, nil)
}

// Cancel moves PENDING or CONFIRMED to CANCELLED on the patient's request.
func (m *Manager) Cancel(ctx context.Context, actor models.Actor, id string) (*models.Appointment, error) {
	return m.apply(ctx, actor, id, ActionCancel, nil)
}

// Start moves an ONLINE appointment from CONFIRMED to ONGOING.
func (m *Manager) Start(ctx context.Context, actor models.Actor, id string) (*models.Appointment, error) {
	return m.apply(ctx, actor, id, ActionStart, nil)
}

// CompleteOffline finishes a CONFIRMED in-clinic appointment.
func (m *Manager) CompleteOffline(ctx context.Context, actor models.Actor, id string) (*models.Appointment, error) {
	return m.apply(ctx, actor, id, ActionCompleteOffline, nil)
}

// Finish moves ONGOING to FINISHED. commit runs first; the status is only
// written once it has succeeded.
func (m *Manager) Finish(ctx context.Context, actor models.Actor, id string, commit CommitFunc) (*models.Appointment, error) {
	return m.apply(ctx, actor, id, ActionFinish, commit)
}

func (m *Manager) apply(ctx context.Context, actor models.Actor, id string, action Action, hook CommitFunc) (*models.Appointment, error) {
	a, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, a, action); err != nil {
		return nil, err
	}
	to, err := Next(action, a.Type, a.Status)
	if err != nil {
		return nil, err
	}

	if hook != nil {
		if err := hook(ctx, a); err != nil {
			return nil, fmt.Errorf("%s appointment %s: %w", action, id, err)
		}
	}

	now := m.now()
	if err := m.store.UpdateStatus(ctx, id, a.Status, to, now); err != nil {
		if errors.Is(err, ErrConflict) {
			current, getErr := m.store.Get(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			return nil, &TransitionError{Action: action, From: current.Status, Reason: "status changed concurrently"}
		}
		return nil, fmt.Errorf("%s appointment %s: %w", action, id, err)
	}

	from := a.Status
	a.Status = to
	a.UpdatedAt = now
	switch to {
	case models.StatusOngoing:
		a.StartedAt = &now
	case models.StatusFinished:
		a.FinishedAt = &now
	}

	m.log.Info().
		Str("appointment_id", id).
		Str("action", string(action)).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor_id", actor.SubjectID).
		Msg("appointment transition")

	if err := m.events.Publish(ctx, events.Event{
		Type:          events.TypeAppointmentTransition,
		AppointmentID: id,
		Action:        string(action),
		Status:        string(to),
		ActorID:       actor.SubjectID,
		ActorRole:     string(actor.Role),
		OccurredAt:    now.UTC(),
	}); err != nil {
		m.log.Warn().Err(err).Str("appointment_id", id).Msg("failed to publish transition event")
	}
	return a, nil
}

func authorize(actor models.Actor, a *models.Appointment, action Action) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	switch action {
	case ActionCancel:
		if actor.Role == models.RolePatient && actor.SubjectID == a.PatientID {
			return nil
		}
	case ActionFinish:
		if actor.Role == models.RoleSystem {
			return nil
		}
		if actor.Role == models.RoleDoctor && actor.SubjectID == a.DoctorID {
			return nil
		}
	default:
		if actor.Role == models.RoleDoctor && actor.SubjectID == a.DoctorID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s as %s", ErrForbidden, action, actor.Role)
}

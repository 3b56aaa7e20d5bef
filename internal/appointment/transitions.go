package appointment

import (
	"errors"
	"fmt"

	"teleconsult-server/internal/models"
)

// Action names a lifecycle operation.
type Action string

const (
	ActionConfirm         Action = "confirm"
	ActionDeny            Action = "deny"
	ActionCancel          Action = "cancel"
	ActionStart           Action = "start"
	ActionFinish          Action = "finish"
	ActionCompleteOffline Action = "complete-offline"
)

var (
	ErrInvalidTransition = errors.New("invalid appointment transition")
	ErrNotFound          = errors.New("appointment not found")
	ErrForbidden         = errors.New("not allowed to act on this appointment")
	// ErrConflict is returned by a Store when the stored status no longer
	// matches the expected source status.
	ErrConflict = errors.New("appointment status changed concurrently")
	// ErrSlotTaken is returned when the doctor's slot already holds a live appointment.
	ErrSlotTaken = errors.New("slot already booked")
	// ErrInvalidBooking is returned for a booking request that names an
	// unknown slot or type, or a slot in the past.
	ErrInvalidBooking = errors.New("invalid booking request")
)

// TransitionError describes a rejected transition.
type TransitionError struct {
	Action Action
	From   models.AppointmentStatus
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s appointment in status %s: %s", e.Action, e.From, e.Reason)
	}
	return fmt.Sprintf("cannot %s appointment in status %s", e.Action, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type transition struct {
	from []models.AppointmentStatus
	to   models.AppointmentStatus
	// onlyType restricts the edge to one appointment type when set.
	onlyType models.AppointmentType
}

var transitions = map[Action]transition{
	ActionConfirm:         {from: []models.AppointmentStatus{models.StatusPending}, to: models.StatusConfirmed},
	ActionDeny:            {from: []models.AppointmentStatus{models.StatusPending}, to: models.StatusDenied},
	ActionCancel:          {from: []models.AppointmentStatus{models.StatusPending, models.StatusConfirmed}, to: models.StatusCancelled},
	ActionStart:           {from: []models.AppointmentStatus{models.StatusConfirmed}, to: models.StatusOngoing, onlyType: models.TypeOnline},
	ActionFinish:          {from: []models.AppointmentStatus{models.StatusOngoing}, to: models.StatusFinished},
	ActionCompleteOffline: {from: []models.AppointmentStatus{models.StatusConfirmed}, to: models.StatusFinished, onlyType: models.TypeOffline},
}

// Next returns the status reached by applying action to an appointment of the
// given type and status, or a *TransitionError.
func Next(action Action, typ models.AppointmentType, from models.AppointmentStatus) (models.AppointmentStatus, error) {
	tr, ok := transitions[action]
	if !ok {
		return from, &TransitionError{Action: action, From: from, Reason: "unknown action"}
	}
	allowed := false
	for _, s := range tr.from {
		if s == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return from, &TransitionError{Action: action, From: from}
	}
	if tr.onlyType != "" && typ != tr.onlyType {
		return from, &TransitionError{Action: action, From: from, Reason: fmt.Sprintf("only for %s appointments", tr.onlyType)}
	}
	return tr.to, nil
}

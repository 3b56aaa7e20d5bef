package appointment

import (
	"context"
	"time"

	"teleconsult-server/internal/models"
)

// Store is the durable appointment store.
type Store interface {
	Create(ctx context.Context, a *models.Appointment) error
	Get(ctx context.Context, id string) (*models.Appointment, error)
	ListForSubject(ctx context.Context, subjectID string, role models.Role) ([]models.Appointment, error)
	// SlotTaken reports whether a live appointment already holds the doctor's slot.
	SlotTaken(ctx context.Context, doctorID string, day time.Time, slot models.Slot) (bool, error)
	// UpdateStatus moves the appointment from one status to another only if it
	// is still in from, returning ErrConflict otherwise. at stamps StartedAt
	// or FinishedAt for the matching targets.
	UpdateStatus(ctx context.Context, id string, from, to models.AppointmentStatus, at time.Time) error
}

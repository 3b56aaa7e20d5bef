package draft

import (
	"context"
	"errors"

	"teleconsult-server/internal/models"
)

var (
	// ErrNoDraft is returned by a LocalStore that holds nothing for the appointment.
	ErrNoDraft = errors.New("no local draft")
	// ErrRecordNotFound is returned when no medical record references the appointment.
	ErrRecordNotFound = errors.New("medical record not found")
)

// LocalStore holds the raw draft payload of each appointment. Payloads are
// kept as bytes so a draft written by an older client can still be decoded
// field by field.
type LocalStore interface {
	Get(ctx context.Context, appointmentID string) ([]byte, error)
	Put(ctx context.Context, appointmentID string, payload []byte) error
	Delete(ctx context.Context, appointmentID string) error
}

// RecordStore is the durable, append-only medical record store.
type RecordStore interface {
	Create(ctx context.Context, rec *models.MedicalRecord) error
	FindByAppointment(ctx context.Context, appointmentID string) (*models.MedicalRecord, error)
	ListByPatient(ctx context.Context, patientID string) ([]models.MedicalRecord, error)
}

package consult

import (
	"context"
	"fmt"

	"teleconsult-server/internal/appointment"
	"teleconsult-server/internal/draft"
	"teleconsult-server/internal/models"
)

// LoadDraft returns the clinician's working draft for the appointment.
func (o *Orchestrator) LoadDraft(ctx context.Context, actor models.Actor, appointmentID string) (models.DraftRecord, error) {
	if _, err := o.editable(ctx, actor, appointmentID); err != nil {
		return models.DraftRecord{}, err
	}
	return o.drafts.Load(ctx, appointmentID)
}

// SaveDraft overwrites the working draft. Drafts can only change while the
// appointment is ONGOING, so a committed appointment never grows a second draft.
func (o *Orchestrator) SaveDraft(ctx context.Context, actor models.Actor, appointmentID string, d models.DraftRecord) (models.DraftRecord, error) {
	if _, err := o.editable(ctx, actor, appointmentID); err != nil {
		return models.DraftRecord{}, err
	}
	return o.drafts.Save(ctx, appointmentID, d)
}

// GenerateSummary merges an AI summary, or the composed fallback, into the draft.
func (o *Orchestrator) GenerateSummary(ctx context.Context, actor models.Actor, appointmentID string) (*draft.SummaryResult, error) {
	if _, err := o.editable(ctx, actor, appointmentID); err != nil {
		return nil, err
	}
	return o.drafts.GenerateAISummary(ctx, appointmentID)
}

// RemoveSummary strips the AI block from the draft notes.
func (o *Orchestrator) RemoveSummary(ctx context.Context, actor models.Actor, appointmentID string) (models.DraftRecord, error) {
	if _, err := o.editable(ctx, actor, appointmentID); err != nil {
		return models.DraftRecord{}, err
	}
	d, err := o.drafts.Load(ctx, appointmentID)
	if err != nil {
		return models.DraftRecord{}, err
	}
	return o.drafts.Save(ctx, appointmentID, draft.RemoveAISummary(d))
}

// Record returns the committed medical record of an appointment.
func (o *Orchestrator) Record(ctx context.Context, actor models.Actor, appointmentID string) (*models.MedicalRecord, error) {
	if _, err := o.appts.Get(ctx, actor, appointmentID); err != nil {
		return nil, err
	}
	return o.drafts.Record(ctx, appointmentID)
}

// PatientRecords lists a patient's records for the patient, a doctor or an admin.
func (o *Orchestrator) PatientRecords(ctx context.Context, actor models.Actor, patientID string) ([]models.MedicalRecord, error) {
	if actor.Role == models.RolePatient && actor.SubjectID != patientID {
		return nil, fmt.Errorf("%w: patients can only read their own records", appointment.ErrForbidden)
	}
	return o.drafts.PatientRecords(ctx, patientID)
}

func (o *Orchestrator) editable(ctx context.Context, actor models.Actor, appointmentID string) (*models.Appointment, error) {
	a, err := o.appts.Get(ctx, actor, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := clinician(actor, a); err != nil {
		return nil, err
	}
	if a.Status != models.StatusOngoing {
		return nil, ErrNotOngoing
	}
	return a, nil
}

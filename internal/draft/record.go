package draft

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"teleconsult-server/internal/models"
)

// Empty returns a blank draft for the appointment.
func Empty(appointmentID string) models.DraftRecord {
	return normalize(models.DraftRecord{AppointmentID: appointmentID})
}

func normalize(d models.DraftRecord) models.DraftRecord {
	if d.DiagnosisSecondary == nil {
		d.DiagnosisSecondary = []string{}
	}
	if d.ICDCodes == nil {
		d.ICDCodes = []string{}
	}
	if d.Prescriptions == nil {
		d.Prescriptions = []models.Prescription{}
	}
	if block := ExtractSummary(d.Notes); block != "" {
		d.AISummary = block
	} else if d.AISummary != "" {
		d.Notes = MergeNotes(d.Notes, d.AISummary)
	}
	return d
}

// decodeLenient decodes field by field so that one stale or mistyped field
// does not discard the rest of the draft.
func decodeLenient(payload []byte, log zerolog.Logger) models.DraftRecord {
	var d models.DraftRecord
	if err := json.Unmarshal(payload, &d); err == nil {
		return d
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		log.Warn().Err(err).Msg("draft payload unreadable, starting empty")
		return models.DraftRecord{}
	}
	d = models.DraftRecord{}
	targets := map[string]any{
		"chiefComplaint":     &d.ChiefComplaint,
		"diagnosisPrimary":   &d.DiagnosisPrimary,
		"diagnosisSecondary": &d.DiagnosisSecondary,
		"icdCodes":           &d.ICDCodes,
		"vitalSigns":         &d.VitalSigns,
		"prescriptions":      &d.Prescriptions,
		"notes":              &d.Notes,
		"aiSummary":          &d.AISummary,
		"updatedAt":          &d.UpdatedAt,
	}
	for name, raw := range fields {
		target, ok := targets[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			log.Debug().Str("field", name).Err(err).Msg("stale draft field defaulted")
		}
	}
	return d
}

func newRecord(a *models.Appointment, d models.DraftRecord, now time.Time) *models.MedicalRecord {
	rec := &models.MedicalRecord{
		AppointmentID:      a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		VisitDate:          now,
		ChiefComplaint:     d.ChiefComplaint,
		DiagnosisPrimary:   d.DiagnosisPrimary,
		DiagnosisSecondary: datatypes.JSONSlice[string](d.DiagnosisSecondary),
		ICDCodes:           datatypes.JSONSlice[string](d.ICDCodes),
		VitalSigns:         datatypes.NewJSONType(d.VitalSigns),
		Prescriptions:      datatypes.JSONSlice[models.Prescription](d.Prescriptions),
		Notes:              d.Notes,
		AISummary:          d.AISummary,
	}
	rec.ID = uuid.NewString()
	return rec
}

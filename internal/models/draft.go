package models

import (
	"time"

	"gorm.io/datatypes"
)

// DraftRecord is the in-progress clinical entry a doctor edits during a session.
type DraftRecord struct {
	AppointmentID      string         `json:"appointmentId"`
	ChiefComplaint     string         `json:"chiefComplaint"`
	DiagnosisPrimary   string         `json:"diagnosisPrimary"`
	DiagnosisSecondary []string       `json:"diagnosisSecondary"`
	ICDCodes           []string       `json:"icdCodes"`
	VitalSigns         VitalSigns     `json:"vitalSigns"`
	Prescriptions      []Prescription `json:"prescriptions"`
	Notes              string         `json:"notes"`
	AISummary          string         `json:"aiSummary,omitempty"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// HasAISummary reports whether an AI-generated block is attached.
func (d *DraftRecord) HasAISummary() bool {
	return d.AISummary != ""
}

// DraftRow keeps the locally saved draft as raw JSON so that drafts written
// by older clients still load.
type DraftRow struct {
	AppointmentID string         `gorm:"primaryKey;size:36"`
	Payload       datatypes.JSON `gorm:"type:json"`
	UpdatedAt     time.Time
}

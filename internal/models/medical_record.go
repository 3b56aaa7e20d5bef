package models

import (
	"time"

	"gorm.io/datatypes"
)

// VitalSigns are captured as typed-in text, e.g. "120/80" for blood pressure.
type VitalSigns struct {
	Temperature      string `json:"temperature"`
	BloodPressure    string `json:"bloodPressure"`
	HeartRate        string `json:"heartRate"`
	OxygenSaturation string `json:"oxygenSaturation"`
	Weight           string `json:"weight"`
	Height           string `json:"height"`
}

// Prescription is a single prescribed medication line.
type Prescription struct {
	Name      string `json:"name" binding:"required"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

// MedicalRecord is the permanent entry produced from a consultation draft.
// The ID is the visit identifier; AppointmentID is unique so an entry is
// retrievable unambiguously and never written twice for one appointment.
type MedicalRecord struct {
	BaseModel
	AppointmentID      string                            `gorm:"size:36;uniqueIndex" json:"appointmentId"`
	PatientID          string                            `gorm:"size:36;index" json:"patientId"`
	DoctorID           string                            `gorm:"size:36;index" json:"doctorId"`
	VisitDate          time.Time                         `json:"visitDate"`
	ChiefComplaint     string                            `gorm:"type:text" json:"chiefComplaint"`
	DiagnosisPrimary   string                            `gorm:"size:255" json:"diagnosisPrimary"`
	DiagnosisSecondary datatypes.JSONSlice[string]       `json:"diagnosisSecondary"`
	ICDCodes           datatypes.JSONSlice[string]       `json:"icdCodes"`
	VitalSigns         datatypes.JSONType[VitalSigns]    `json:"vitalSigns"`
	Prescriptions      datatypes.JSONSlice[Prescription] `json:"prescriptions"`
	Notes              string                            `gorm:"type:text" json:"notes"`
	AISummary          string                            `gorm:"type:text" json:"aiSummary,omitempty"`
}

package models

import (
	"time"
)

// AppointmentStatus represents the status of an appointment
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusDenied    AppointmentStatus = "DENIED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusOngoing   AppointmentStatus = "ONGOING"
	StatusFinished  AppointmentStatus = "FINISHED"
)

// IsTerminal reports whether no transition leaves the status.
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusDenied, StatusCancelled:
		return true
	}
	return false
}

// AppointmentType is either an online (video) or an in-clinic visit.
type AppointmentType string

const (
	TypeOnline  AppointmentType = "ONLINE"
	TypeOffline AppointmentType = "OFFLINE"
)

// Appointment represents a scheduled medical appointment
type Appointment struct {
	BaseModel
	PatientID     string            `gorm:"size:36;index" json:"patientId"`
	DoctorID      string            `gorm:"size:36;index" json:"doctorId"`
	Type          AppointmentType   `gorm:"size:10;default:'ONLINE'" json:"type"`
	ScheduledDate time.Time         `gorm:"type:date;index" json:"scheduledDate"`
	Slot          Slot              `gorm:"size:4" json:"slot"`
	Status        AppointmentStatus `gorm:"size:20;default:'PENDING';index" json:"status"`
	Reason        string            `gorm:"type:text" json:"reason"`
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	FinishedAt    *time.Time        `json:"finishedAt,omitempty"`
}

// Involves reports whether the subject is the doctor or the patient of the appointment.
func (a *Appointment) Involves(subjectID string) bool {
	return subjectID != "" && (a.DoctorID == subjectID || a.PatientID == subjectID)
}

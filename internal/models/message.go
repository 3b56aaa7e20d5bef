package models

import (
	"time"
)

// Message is one chat line of a consultation. Seq orders messages within an
// appointment; the log is append-only.
type Message struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AppointmentID string    `gorm:"size:36;uniqueIndex:idx_message_seq" json:"appointmentId"`
	Seq           int64     `gorm:"uniqueIndex:idx_message_seq" json:"seq"`
	SenderRole    Role      `gorm:"size:20" json:"senderRole"`
	SenderID      string    `gorm:"size:36" json:"senderId"`
	Text          string    `gorm:"type:text" json:"text"`
	Timestamp     time.Time `json:"timestamp"`
}

// PresenceState holds the two online flags of an appointment.
type PresenceState struct {
	AppointmentID string    `gorm:"primaryKey;size:36" json:"appointmentId"`
	DoctorOnline  bool      `json:"doctorOnline"`
	PatientOnline bool      `json:"patientOnline"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Empty reports whether both participants are offline.
func (p PresenceState) Empty() bool {
	return !p.DoctorOnline && !p.PatientOnline
}

package consult

import (
	"time"

	"teleconsult-server/internal/session"
)

// Notification types pushed to the participants of a session.
const (
	NoteSessionStarted       = "session_started"
	NoteExtensionPrompt      = string(session.EventExtensionPrompt)
	NoteOneMinuteWarning     = string(session.EventOneMinuteWarning)
	NoteAutoTerminate        = string(session.EventAutoTerminate)
	NoteExtended             = "extended"
	NoteConfirmationRequired = "confirmation_required"
	NoteFinished             = "finished"
	NoteCommitPending        = "commit_pending"
	NoteSessionClosed        = "session_closed"
	NoteMedia                = "media"
	NotePresence             = "presence"
)

// Notification is a session event addressed to one appointment.
type Notification struct {
	Type          string    `json:"type"`
	AppointmentID string    `json:"appointmentId"`
	Session       *Snapshot `json:"session,omitempty"`
	Payload       any       `json:"payload,omitempty"`
	At            time.Time `json:"at"`
}

// Notifier delivers notifications. Notify must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

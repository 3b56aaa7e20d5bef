// Package events publishes consultation lifecycle events to external
// collaborators.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	TypeAppointmentTransition = "appointment.transition"
	TypeRecordCommitted       = "record.committed"
	TypeCommitPending         = "record.commit_pending"
)

// Event is a single lifecycle fact.
type Event struct {
	Type          string            `json:"type"`
	AppointmentID string            `json:"appointmentId"`
	Action        string            `json:"action,omitempty"`
	Status        string            `json:"status,omitempty"`
	ActorID       string            `json:"actorId,omitempty"`
	ActorRole     string            `json:"actorRole,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	OccurredAt    time.Time         `json:"occurredAt"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// LogPublisher writes events to the log. It is used when no broker is configured.
type LogPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.log.Info().
		Str("type", e.Type).
		Str("appointment_id", e.AppointmentID).
		Str("action", e.Action).
		Str("status", e.Status).
		Msg("event")
	return nil
}

// MemoryPublisher keeps published events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// OfType returns the published events of one type.
func (p *MemoryPublisher) OfType(typ string) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

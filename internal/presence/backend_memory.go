package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"teleconsult-server/internal/models"
)

// ErrBackendDown is what MemoryBackend returns while failures are injected.
var ErrBackendDown = errors.New("backend unreachable")

// MemoryBackend keeps messages and presence in process.
type MemoryBackend struct {
	mu       sync.Mutex
	messages map[string][]models.Message
	ids      map[string]models.Message
	presence map[string]models.PresenceState
	failures int
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		messages: make(map[string][]models.Message),
		ids:      make(map[string]models.Message),
		presence: make(map[string]models.PresenceState),
	}
}

// FailNext makes the next n calls return ErrBackendDown.
func (b *MemoryBackend) FailNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = n
}

func (b *MemoryBackend) fail() bool {
	if b.failures > 0 {
		b.failures--
		return true
	}
	return false
}

func (b *MemoryBackend) Append(_ context.Context, msg *models.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail() {
		return ErrBackendDown
	}
	if stored, ok := b.ids[msg.ID]; ok {
		*msg = stored
		return nil
	}
	log := b.messages[msg.AppointmentID]
	msg.Seq = int64(len(log)) + 1
	b.messages[msg.AppointmentID] = append(log, *msg)
	b.ids[msg.ID] = *msg
	return nil
}

func (b *MemoryBackend) History(_ context.Context, appointmentID string, afterSeq int64) ([]models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail() {
		return nil, ErrBackendDown
	}
	out := []models.Message{}
	for _, m := range b.messages[appointmentID] {
		if m.Seq > afterSeq {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *MemoryBackend) SetPresence(_ context.Context, appointmentID string, role models.Role, online bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail() {
		return ErrBackendDown
	}
	st := b.presence[appointmentID]
	st.AppointmentID = appointmentID
	switch role {
	case models.RoleDoctor:
		st.DoctorOnline = online
	case models.RolePatient:
		st.PatientOnline = online
	}
	st.UpdatedAt = time.Now()
	b.presence[appointmentID] = st
	return nil
}

func (b *MemoryBackend) Presence(_ context.Context, appointmentID string) (models.PresenceState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail() {
		return models.PresenceState{AppointmentID: appointmentID}, ErrBackendDown
	}
	st := b.presence[appointmentID]
	st.AppointmentID = appointmentID
	return st, nil
}

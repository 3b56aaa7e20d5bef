package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"teleconsult-server/internal/models"
)

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]models.Appointment
	// FailUpdates makes UpdateStatus return this error when set.
	FailUpdates error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]models.Appointment)}
}

func (s *MemoryStore) Create(_ context.Context, a *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.Status == "" {
		a.Status = models.StatusPending
	}
	s.items[a.ID] = *a
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) ListForSubject(_ context.Context, subjectID string, role models.Role) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Appointment
	for _, a := range s.items {
		switch {
		case role == models.RoleAdmin,
			role == models.RoleDoctor && a.DoctorID == subjectID,
			role == models.RolePatient && a.PatientID == subjectID:
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ScheduledDate.Before(out[j].ScheduledDate)
		}
		return out[i].Slot < out[j].Slot
	})
	return out, nil
}

func (s *MemoryStore) SlotTaken(_ context.Context, doctorID string, day time.Time, slot models.Slot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.items {
		if a.DoctorID == doctorID && a.Slot == slot && sameDay(a.ScheduledDate, day) &&
			a.Status != models.StatusDenied && a.Status != models.StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, from, to models.AppointmentStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdates != nil {
		return s.FailUpdates
	}
	a, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != from {
		return ErrConflict
	}
	a.Status = to
	a.UpdatedAt = at
	switch to {
	case models.StatusOngoing:
		a.StartedAt = &at
	case models.StatusFinished:
		a.FinishedAt = &at
	}
	s.items[id] = a
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

package draft

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"teleconsult-server/internal/models"
)

// ErrStoreDown is returned by the memory stores while failures are injected.
var ErrStoreDown = errors.New("record store unreachable")

// MemoryLocalStore keeps drafts in process.
type MemoryLocalStore struct {
	mu     sync.Mutex
	drafts map[string][]byte
}

func NewMemoryLocalStore() *MemoryLocalStore {
	return &MemoryLocalStore{drafts: make(map[string][]byte)}
}

func (s *MemoryLocalStore) Get(_ context.Context, appointmentID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.drafts[appointmentID]
	if !ok {
		return nil, ErrNoDraft
	}
	return append([]byte(nil), b...), nil
}

func (s *MemoryLocalStore) Put(_ context.Context, appointmentID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[appointmentID] = append([]byte(nil), payload...)
	return nil
}

func (s *MemoryLocalStore) Delete(_ context.Context, appointmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, appointmentID)
	return nil
}

// MemoryRecordStore keeps medical records in process. It enforces the
// one-record-per-appointment rule the way the unique index does.
type MemoryRecordStore struct {
	mu       sync.Mutex
	records  []models.MedicalRecord
	failures int
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{}
}

// FailNext makes the next n Create calls return ErrStoreDown.
func (s *MemoryRecordStore) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Count returns the number of stored records.
func (s *MemoryRecordStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryRecordStore) Create(_ context.Context, rec *models.MedicalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return ErrStoreDown
	}
	for _, r := range s.records {
		if r.AppointmentID == rec.AppointmentID {
			return errors.New("duplicate medical record for appointment")
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryRecordStore) FindByAppointment(_ context.Context, appointmentID string) (*models.MedicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.AppointmentID == appointmentID {
			rec := r
			return &rec, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *MemoryRecordStore) ListByPatient(_ context.Context, patientID string) ([]models.MedicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MedicalRecord
	for _, r := range s.records {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VisitDate.After(out[j].VisitDate) })
	return out, nil
}

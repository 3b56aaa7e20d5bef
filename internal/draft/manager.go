// Package draft holds the in-progress clinical record of a consultation and
// turns it into a permanent medical record exactly once.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"teleconsult-server/internal/events"
	"teleconsult-server/internal/models"
	"teleconsult-server/internal/utils"
)

// ErrCommitFailed means the durable record store rejected the entry or could
// not be reached. The local draft is kept.
var ErrCommitFailed = errors.New("draft commit failed")

// Archiver receives a copy of every committed record.
type Archiver interface {
	Archive(ctx context.Context, rec *models.MedicalRecord) error
}

// Manager loads, saves and commits drafts.
type Manager struct {
	local      LocalStore
	records    RecordStore
	summarizer Summarizer
	archiver   Archiver
	events     events.Publisher
	retry      utils.RetryPolicy
	log        zerolog.Logger
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithSummarizer(s Summarizer) Option { return func(m *Manager) { m.summarizer = s } }
func WithArchiver(a Archiver) Option     { return func(m *Manager) { m.archiver = a } }
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.events = p }
}
func WithRetry(p utils.RetryPolicy) Option { return func(m *Manager) { m.retry = p } }

// NewManager creates a Manager over the local draft store and the durable record store.
func NewManager(local LocalStore, records RecordStore, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		local:   local,
		records: records,
		retry:   utils.RetryPolicy{Attempts: 1},
		log:     log.With().Str("component", "draft").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load returns the saved draft, or an empty one when nothing was saved.
// Fields that are missing or no longer decode are defaulted.
func (m *Manager) Load(ctx context.Context, appointmentID string) (models.DraftRecord, error) {
	payload, err := m.local.Get(ctx, appointmentID)
	if errors.Is(err, ErrNoDraft) {
		return Empty(appointmentID), nil
	}
	if err != nil {
		return models.DraftRecord{}, fmt.Errorf("load draft: %w", err)
	}
	d := decodeLenient(payload, m.log)
	d.AppointmentID = appointmentID
	return normalize(d), nil
}

// Save overwrites the local draft. It never touches the record store.
func (m *Manager) Save(ctx context.Context, appointmentID string, d models.DraftRecord) (models.DraftRecord, error) {
	d.AppointmentID = appointmentID
	d.UpdatedAt = m.now().UTC()
	d = normalize(d)
	payload, err := json.Marshal(d)
	if err != nil {
		return models.DraftRecord{}, err
	}
	if err := m.local.Put(ctx, appointmentID, payload); err != nil {
		return models.DraftRecord{}, fmt.Errorf("save draft: %w", err)
	}
	return d, nil
}

// MergeAISummary places summary in the notes' AI block, replacing any
// previous block. AISummary mirrors the block.
func MergeAISummary(d models.DraftRecord, summary string) models.DraftRecord {
	d.Notes = MergeNotes(d.Notes, summary)
	d.AISummary = ExtractSummary(d.Notes)
	return d
}

// RemoveAISummary strips the AI block and restores the clinician notes.
func RemoveAISummary(d models.DraftRecord) models.DraftRecord {
	d.Notes = StripNotes(d.Notes)
	d.AISummary = ""
	return d
}

// Commit writes the draft as the appointment's medical record. A record that
// already exists for the appointment is returned as is, so repeated calls
// produce one record. On success the local draft is deleted; on failure it is
// saved and ErrCommitFailed is returned.
func (m *Manager) Commit(ctx context.Context, a *models.Appointment, d models.DraftRecord) (*models.MedicalRecord, error) {
	log := m.log.With().Str("appointment_id", a.ID).Logger()

	if existing, err := m.records.FindByAppointment(ctx, a.ID); err == nil {
		log.Info().Str("visit_id", existing.ID).Msg("record already committed")
		m.discard(ctx, a.ID)
		return existing, nil
	} else if !errors.Is(err, ErrRecordNotFound) {
		if _, serr := m.Save(ctx, a.ID, d); serr != nil {
			log.Error().Err(serr).Msg("could not keep draft after lookup failure")
		}
		return nil, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	if _, err := m.Save(ctx, a.ID, d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	rec := newRecord(a, normalize(d), m.now().UTC())
	err := utils.Retry(ctx, m.retry, func(ctx context.Context) error {
		return m.records.Create(ctx, rec)
	})
	if err != nil {
		// A concurrent commit may have won the unique index.
		if existing, ferr := m.records.FindByAppointment(ctx, a.ID); ferr == nil {
			m.discard(ctx, a.ID)
			return existing, nil
		}
		log.Error().Err(err).Msg("commit failed, draft kept")
		return nil, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	log.Info().Str("visit_id", rec.ID).Msg("record committed")
	m.discard(ctx, a.ID)
	m.afterCommit(ctx, rec)
	return rec, nil
}

// Record returns the committed record for the appointment.
func (m *Manager) Record(ctx context.Context, appointmentID string) (*models.MedicalRecord, error) {
	return m.records.FindByAppointment(ctx, appointmentID)
}

// PatientRecords lists the patient's records, newest first.
func (m *Manager) PatientRecords(ctx context.Context, patientID string) ([]models.MedicalRecord, error) {
	return m.records.ListByPatient(ctx, patientID)
}

func (m *Manager) discard(ctx context.Context, appointmentID string) {
	if err := m.local.Delete(ctx, appointmentID); err != nil {
		m.log.Warn().Err(err).Str("appointment_id", appointmentID).Msg("could not delete local draft")
	}
}

func (m *Manager) afterCommit(ctx context.Context, rec *models.MedicalRecord) {
	if m.archiver != nil {
		if err := m.archiver.Archive(ctx, rec); err != nil {
			m.log.Warn().Err(err).Str("visit_id", rec.ID).Msg("archive failed")
		}
	}
	if m.events != nil {
		err := m.events.Publish(ctx, events.Event{
			Type:          events.TypeRecordCommitted,
			AppointmentID: rec.AppointmentID,
			Attributes:    map[string]string{"visitId": rec.ID, "patientId": rec.PatientID},
			OccurredAt:    rec.CreatedAt,
		})
		if err != nil {
			m.log.Warn().Err(err).Str("visit_id", rec.ID).Msg("publish failed")
		}
	}
}

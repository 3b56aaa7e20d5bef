package draft

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"teleconsult-server/internal/models"
)

// GormLocalStore keeps drafts in the draft_rows table.
type GormLocalStore struct {
	DB *gorm.DB
}

func NewGormLocalStore(db *gorm.DB) *GormLocalStore {
	return &GormLocalStore{DB: db}
}

func (s *GormLocalStore) Get(ctx context.Context, appointmentID string) ([]byte, error) {
	var row models.DraftRow
	err := s.DB.WithContext(ctx).First(&row, "appointment_id = ?", appointmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoDraft
	}
	if err != nil {
		return nil, err
	}
	return row.Payload, nil
}

func (s *GormLocalStore) Put(ctx context.Context, appointmentID string, payload []byte) error {
	row := models.DraftRow{AppointmentID: appointmentID, Payload: payload, UpdatedAt: time.Now()}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "appointment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
}

func (s *GormLocalStore) Delete(ctx context.Context, appointmentID string) error {
	return s.DB.WithContext(ctx).Delete(&models.DraftRow{}, "appointment_id = ?", appointmentID).Error
}

// GormRecordStore persists medical records.
type GormRecordStore struct {
	DB *gorm.DB
}

func NewGormRecordStore(db *gorm.DB) *GormRecordStore {
	return &GormRecordStore{DB: db}
}

func (s *GormRecordStore) Create(ctx context.Context, rec *models.MedicalRecord) error {
	return s.DB.WithContext(ctx).Create(rec).Error
}

func (s *GormRecordStore) FindByAppointment(ctx context.Context, appointmentID string) (*models.MedicalRecord, error) {
	var rec models.MedicalRecord
	err := s.DB.WithContext(ctx).Where("appointment_id = ?", appointmentID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormRecordStore) ListByPatient(ctx context.Context, patientID string) ([]models.MedicalRecord, error) {
	var recs []models.MedicalRecord
	err := s.DB.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("visit_date DESC").
		Find(&recs).Error
	return recs, err
}

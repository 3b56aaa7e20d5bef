package appointment

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"teleconsult-server/internal/models"
)

// GormStore persists appointments with gorm.
type GormStore struct {
	DB *gorm.DB
}

// NewGormStore creates a new GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) Create(ctx context.Context, a *models.Appointment) error {
	return s.DB.WithContext(ctx).Create(a).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Appointment, error) {
	var a models.Appointment
	if err := s.DB.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *GormStore) ListForSubject(ctx context.Context, subjectID string, role models.Role) ([]models.Appointment, error) {
	query := s.DB.WithContext(ctx).Order("scheduled_date asc, slot asc")
	switch role {
	case models.RolePatient:
		query = query.Where("patient_id = ?", subjectID)
	case models.RoleDoctor:
		query = query.Where("doctor_id = ?", subjectID)
	case models.RoleAdmin:
	default:
		return nil, ErrForbidden
	}
	var out []models.Appointment
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) SlotTaken(ctx context.Context, doctorID string, day time.Time, slot models.Slot) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.Appointment{}).
		Where("doctor_id = ? AND scheduled_date = ? AND slot = ?", doctorID, day.Format("2006-01-02"), slot).
		Where("status NOT IN ?", []models.AppointmentStatus{models.StatusDenied, models.StatusCancelled}).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) UpdateStatus(ctx context.Context, id string, from, to models.AppointmentStatus, at time.Time) error {
	updates := map[string]interface{}{"status": to}
	switch to {
	case models.StatusOngoing:
		updates["started_at"] = at
	case models.StatusFinished:
		updates["finished_at"] = at
	}

	res := s.DB.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

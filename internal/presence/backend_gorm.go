package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"teleconsult-server/internal/models"
)

// GormBackend stores the message log and presence flags in the database.
type GormBackend struct {
	DB *gorm.DB
}

// NewGormBackend creates a new GormBackend.
func NewGormBackend(db *gorm.DB) *GormBackend {
	return &GormBackend{DB: db}
}

func (b *GormBackend) Append(ctx context.Context, msg *models.Message) error {
	return b.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Message
		err := tx.First(&existing, "id = ?", msg.ID).Error
		if err == nil {
			*msg = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var last int64
		if err := tx.Model(&models.Message{}).
			Where("appointment_id = ?", msg.AppointmentID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&last).Error; err != nil {
			return err
		}
		msg.Seq = last + 1
		// A concurrent writer on another instance trips the unique
		// (appointment_id, seq) index and the caller retries.
		return tx.Create(msg).Error
	})
}

func (b *GormBackend) History(ctx context.Context, appointmentID string, afterSeq int64) ([]models.Message, error) {
	out := []models.Message{}
	err := b.DB.WithContext(ctx).
		Where("appointment_id = ? AND seq > ?", appointmentID, afterSeq).
		Order("seq asc").
		Find(&out).Error
	return out, err
}

func (b *GormBackend) SetPresence(ctx context.Context, appointmentID string, role models.Role, online bool) error {
	var column string
	switch role {
	case models.RoleDoctor:
		column = "doctor_online"
	case models.RolePatient:
		column = "patient_online"
	default:
		return fmt.Errorf("no presence flag for role %q", role)
	}
	now := time.Now()
	return b.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.PresenceState{AppointmentID: appointmentID, UpdatedAt: now}).Error; err != nil {
			return err
		}
		return tx.Model(&models.PresenceState{}).
			Where("appointment_id = ?", appointmentID).
			Updates(map[string]interface{}{column: online, "updated_at": now}).Error
	})
}

func (b *GormBackend) Presence(ctx context.Context, appointmentID string) (models.PresenceState, error) {
	st := models.PresenceState{AppointmentID: appointmentID}
	err := b.DB.WithContext(ctx).First(&st, "appointment_id = ?", appointmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PresenceState{AppointmentID: appointmentID}, nil
	}
	return st, err
}

package presence

import (
	"context"

	"teleconsult-server/internal/models"
)

// Backend is the real-time store behind the channel.
type Backend interface {
	// Append stores msg and assigns its Seq. Appending a message whose ID is
	// already stored is a no-op that fills msg from the stored copy.
	Append(ctx context.Context, msg *models.Message) error
	// History returns messages with Seq greater than afterSeq in Seq order.
	History(ctx context.Context, appointmentID string, afterSeq int64) ([]models.Message, error)
	SetPresence(ctx context.Context, appointmentID string, role models.Role, online bool) error
	Presence(ctx context.Context, appointmentID string) (models.PresenceState, error)
}

package consult

import (
	"context"
	"fmt"

	"teleconsult-server/internal/appointment"
	"teleconsult-server/internal/models"
	"teleconsult-server/internal/presence"
)

// SendMessage posts a chat line as the actor. clientID, when set, makes a
// resend of the same message idempotent.
func (o *Orchestrator) SendMessage(ctx context.Context, actor models.Actor, appointmentID, clientID, text string) (models.Message, error) {
	if err := o.chatter(ctx, actor, appointmentID); err != nil {
		return models.Message{}, err
	}
	return o.channel.SendMessage(ctx, appointmentID, models.Message{
		ID:         clientID,
		SenderRole: actor.Role,
		SenderID:   actor.SubjectID,
		Text:       text,
	})
}

// History returns the chat log after afterSeq.
func (o *Orchestrator) History(ctx context.Context, actor models.Actor, appointmentID string, afterSeq int64) ([]models.Message, error) {
	if _, err := o.appts.Get(ctx, actor, appointmentID); err != nil {
		return nil, err
	}
	return o.channel.History(ctx, appointmentID, afterSeq)
}

// Subscribe registers h for the appointment's chat. The subscription is held
// in the actor's role, so a participant's open stream keeps the channel alive.
func (o *Orchestrator) Subscribe(ctx context.Context, actor models.Actor, appointmentID string, afterSeq int64, h presence.Handler, opts ...presence.SubscribeOption) (func(), error) {
	if _, err := o.appts.Get(ctx, actor, appointmentID); err != nil {
		return nil, err
	}
	opts = append([]presence.SubscribeOption{presence.WithRole(actor.Role)}, opts...)
	return o.channel.Subscribe(ctx, appointmentID, afterSeq, h, opts...)
}

// Presence returns both participants' presence. On a backend outage the
// disconnected state is returned with the error.
func (o *Orchestrator) Presence(ctx context.Context, actor models.Actor, appointmentID string) (models.PresenceState, error) {
	if _, err := o.appts.Get(ctx, actor, appointmentID); err != nil {
		return models.PresenceState{AppointmentID: appointmentID}, err
	}
	return o.channel.Presence(ctx, appointmentID)
}

func (o *Orchestrator) chatter(ctx context.Context, actor models.Actor, appointmentID string) error {
	a, err := o.appts.Get(ctx, actor, appointmentID)
	if err != nil {
		return err
	}
	if !actor.Role.IsParticipant() || !a.Involves(actor.SubjectID) {
		return fmt.Errorf("%w: only the doctor and the patient can chat", appointment.ErrForbidden)
	}
	if a.Status.IsTerminal() {
		return fmt.Errorf("%w: chat is closed", appointment.ErrInvalidTransition)
	}
	return nil
}

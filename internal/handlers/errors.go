package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"teleconsult-server/internal/appointment"
	"teleconsult-server/internal/consult"
	"teleconsult-server/internal/draft"
	"teleconsult-server/internal/media"
	"teleconsult-server/internal/middleware"
	"teleconsult-server/internal/models"
	"teleconsult-server/internal/presence"
	"teleconsult-server/internal/session"
	"teleconsult-server/internal/utils"
)

// commitFailure is returned with a 503 when the record could not be written.
// The clinician must not assume the entry is stored.
type commitFailure struct {
	Durable bool              `json:"durable"`
	Session *consult.Snapshot `json:"session,omitempty"`
}

// respondError maps a core error onto the response envelope. snap, when
// non-nil, is returned alongside the error.
func respondError(c *gin.Context, err error, snap *consult.Snapshot) {
	_ = c.Error(err)
	msg := err.Error()
	switch {
	case errors.Is(err, draft.ErrCommitFailed):
		utils.ServiceUnavailable(c, msg, commitFailure{Durable: false, Session: snap})
	case errors.Is(err, consult.ErrConfirmationRequired):
		utils.PreconditionRequired(c, msg, snap)
	case errors.Is(err, appointment.ErrForbidden):
		utils.Forbidden(c, msg)
	case errors.Is(err, appointment.ErrNotFound),
		errors.Is(err, consult.ErrNoSession),
		errors.Is(err, draft.ErrRecordNotFound):
		utils.NotFound(c, msg)
	case errors.Is(err, appointment.ErrInvalidTransition),
		errors.Is(err, appointment.ErrConflict),
		errors.Is(err, appointment.ErrSlotTaken),
		errors.Is(err, consult.ErrCommitPending),
		errors.Is(err, consult.ErrNothingToConfirm),
		errors.Is(err, consult.ErrNotOngoing),
		errors.Is(err, session.ErrNoPendingPrompt),
		errors.Is(err, session.ErrAlreadyExtended):
		utils.Conflict(c, msg)
	case errors.Is(err, appointment.ErrInvalidBooking),
		errors.Is(err, presence.ErrEmptyMessage),
		errors.Is(err, presence.ErrInvalidRole):
		utils.BadRequest(c, msg)
	case errors.Is(err, presence.ErrChannelUnavailable):
		utils.ServiceUnavailable(c, msg, nil)
	case errors.Is(err, media.ErrTokenIssuance):
		utils.BadGateway(c, msg)
	default:
		utils.InternalServerError(c, msg)
	}
}

// actor returns the authenticated caller or writes a 401.
func actor(c *gin.Context) (models.Actor, bool) {
	a, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
	}
	return a, ok
}

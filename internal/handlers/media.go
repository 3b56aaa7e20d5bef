package handlers

import (
	"github.com/gin-gonic/gin"

	"teleconsult-server/internal/appointment"
	"teleconsult-server/internal/media"
	"teleconsult-server/internal/utils"
)

// MediaHandler issues tokens for the video transport. The channel name is
// the appointment id.
type MediaHandler struct {
	appts  *appointment.Manager
	issuer media.TokenIssuer
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(appts *appointment.Manager, issuer media.TokenIssuer) *MediaHandler {
	return &MediaHandler{appts: appts, issuer: issuer}
}

// GetToken issues a media token for ?channel= as the caller.
func (h *MediaHandler) GetToken(c *gin.Context) {
	who, ok := actor(c)
	if !ok {
		return
	}
	channel := c.Query("channel")
	if channel == "" {
		utils.BadRequest(c, "channel is required")
		return
	}
	uid := c.DefaultQuery("uid", who.SubjectID)
	if uid != who.SubjectID {
		utils.Forbidden(c, "Tokens can only be issued for the caller")
		return
	}
	if _, err := h.appts.Get(c.Request.Context(), who, channel); err != nil {
		respondError(c, err, nil)
		return
	}

	tok, err := h.issuer.Issue(c.Request.Context(), channel, uid)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Success(c, "Media token issued", tok)
}

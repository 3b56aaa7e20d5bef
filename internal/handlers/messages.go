package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"teleconsult-server/internal/consult"
	"teleconsult-server/internal/presence"
	"teleconsult-server/internal/utils"
)

// MessageHandler handles the consultation chat and presence.
type MessageHandler struct {
	orch *consult.Orchestrator
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(orch *consult.Orchestrator) *MessageHandler {
	return &MessageHandler{orch: orch}
}

// SendMessageRequest represents the request body for sending a message.
// ID is optional; a client that retries with the same ID gets the stored
// message back instead of a duplicate.
type SendMessageRequest struct {
	ID   string `json:"id" binding:"omitempty,max=64"`
	Text string `json:"text" binding:"required,max=4000"`
}

// SendMessage posts a chat line to the appointment.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	who, ok := actor(c)
	if !ok {
		return
	}
	msg, err := h.orch.SendMessage(c.Request.Context(), who, c.Param("id"), req.ID, req.Text)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Created(c, "Message sent successfully", msg)
}

// GetMessages returns the chat log, optionally after the sequence in ?after=.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	who, ok := actor(c)
	if !ok {
		return
	}
	after, err := seqParam(c, "after")
	if err != nil {
		utils.BadRequest(c, "Invalid after parameter")
		return
	}
	msgs, err := h.orch.History(c.Request.Context(), who, c.Param("id"), after)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Success(c, "Messages retrieved successfully", msgs)
}

// PresenceRequest sets the caller's presence.
type PresenceRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// SetPresence records whether the caller is in the session.
func (h *MessageHandler) SetPresence(c *gin.Context) {
	var req PresenceRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	who, ok := actor(c)
	if !ok {
		return
	}
	if err := h.orch.SetPresence(c.Request.Context(), who, c.Param("id"), *req.Online); err != nil {
		respondError(c, err, nil)
		return
	}
	h.GetPresence(c)
}

// GetPresence returns both participants' presence. During a channel outage
// both are reported offline with a 503.
func (h *MessageHandler) GetPresence(c *gin.Context) {
	who, ok := actor(c)
	if !ok {
		return
	}
	st, err := h.orch.Presence(c.Request.Context(), who, c.Param("id"))
	if err != nil {
		if errors.Is(err, presence.ErrChannelUnavailable) {
			utils.ServiceUnavailable(c, err.Error(), st)
			return
		}
		respondError(c, err, nil)
		return
	}
	utils.Success(c, "Presence retrieved successfully", st)
}

func seqParam(c *gin.Context, name string) (int64, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.New("invalid sequence")
	}
	return n, nil
}

package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"teleconsult-server/internal/consult"
	"teleconsult-server/internal/media"
	"teleconsult-server/internal/models"
	"teleconsult-server/internal/utils"
)

// SessionHandler exposes the live consultation controls.
type SessionHandler struct {
	orch *consult.Orchestrator
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(orch *consult.Orchestrator) *SessionHandler {
	return &SessionHandler{orch: orch}
}

type sessionFunc func(ctx context.Context, actor models.Actor, appointmentID string) (consult.Snapshot, error)

func sessionAction(message string, fn sessionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		who, ok := actor(c)
		if !ok {
			return
		}
		snap, err := fn(c.Request.Context(), who, c.Param("id"))
		if err != nil {
			var sp *consult.Snapshot
			if snap.Phase != "" {
				sp = &snap
			}
			respondError(c, err, sp)
			return
		}
		utils.Success(c, message, snap)
	}
}

func (h *SessionHandler) Start() gin.HandlerFunc { return sessionAction("Session started", h.orch.Start) }
func (h *SessionHandler) Resume() gin.HandlerFunc { return sessionAction("Session resumed", h.orch.Resume) }
func (h *SessionHandler) Get() gin.HandlerFunc { return sessionAction("Session retrieved", h.orch.Session) }
func (h *SessionHandler) Extend() gin.HandlerFunc { return sessionAction("Session extended", h.orch.Extend) }
func (h *SessionHandler) EndNow() gin.HandlerFunc { return sessionAction("Session ended", h.orch.EndNow) }

// End ends the session. A draft carrying an AI summary answers 428 until
// the clinician calls ConfirmEnd.
func (h *SessionHandler) End() gin.HandlerFunc { return sessionAction("Session ended", h.orch.RequestEnd) }

func (h *SessionHandler) ConfirmEnd() gin.HandlerFunc {
	return sessionAction("Session ended", h.orch.ConfirmEnd)
}

func (h *SessionHandler) RetryCommit() gin.HandlerFunc {
	return sessionAction("Commit retried", h.orch.RetryCommit)
}

// Leave closes the caller's side of the session.
func (h *SessionHandler) Leave(c *gin.Context) {
	who, ok := actor(c)
	if !ok {
		return
	}
	if err := h.orch.Leave(c.Request.Context(), who, c.Param("id")); err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Success(c, "Left session", nil)
}

// MediaSignalsRequest is what the caller's media client sees of the remote side.
type MediaSignalsRequest struct {
	RemoteVideo     bool `json:"remoteVideo"`
	RemoteConnected bool `json:"remoteConnected"`
}

// ReportMedia records the caller's media signals.
func (h *SessionHandler) ReportMedia(c *gin.Context) {
	var req MediaSignalsRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	who, ok := actor(c)
	if !ok {
		return
	}
	err := h.orch.ReportMedia(c.Request.Context(), who, c.Param("id"), media.Signals{
		RemoteVideo:     req.RemoteVideo,
		RemoteConnected: req.RemoteConnected,
	})
	if err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Success(c, "Media signals recorded", req)
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"teleconsult-server/internal/consult"
	"teleconsult-server/internal/models"
	"teleconsult-server/internal/presence"
	"teleconsult-server/internal/realtime"
	"teleconsult-server/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
)

// ClientMessage is a frame sent by the browser.
type ClientMessage struct {
	Action string `json:"action"` // "message"
	ID     string `json:"id,omitempty"`
	Text   string `json:"text,omitempty"`
}

// RealtimeHandler upgrades session clients to WebSockets. A connection
// receives the chat log (replayed after ?since=) and every session
// notification of the appointment. A participant dropping their last
// connection to the appointment counts as leaving the session.
type RealtimeHandler struct {
	hub      *realtime.Hub
	orch     *consult.Orchestrator
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewRealtimeHandler creates a RealtimeHandler. origin is the allowed
// browser origin; empty or "*" allows any.
func NewRealtimeHandler(hub *realtime.Hub, orch *consult.Orchestrator, origin string, log zerolog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		hub:  hub,
		orch: orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				o := r.Header.Get("Origin")
				return origin == "" || origin == "*" || o == "" || o == origin
			},
		},
		log: log.With().Str("component", "realtime").Logger(),
	}
}

// Connect handles GET /appointments/:id/ws.
func (h *RealtimeHandler) Connect(c *gin.Context) {
	who, ok := actor(c)
	if !ok {
		return
	}
	since, err := seqParam(c, "since")
	if err != nil {
		utils.BadRequest(c, "Invalid since parameter")
		return
	}
	id := c.Param("id")
	topic := realtime.Topic(id)

	client := realtime.NewClient(uuid.NewString(), who, topic)
	h.hub.Register(client)

	inbox := presence.NewInbox()
	first := true
	unsubscribe, err := h.orch.Subscribe(c.Request.Context(), who, id, since, func(batch []models.Message) {
		// The history batch is always sent, even when empty, so the client
		// knows replay is complete.
		fresh := inbox.Add(batch)
		if len(fresh) == 0 && !first {
			return
		}
		first = false
		if fresh == nil {
			fresh = []models.Message{}
		}
		data, err := json.Marshal(fresh)
		if err != nil {
			return
		}
		h.hub.SendTo(client, realtime.Event{
			Type:          realtime.EventMessages,
			Topic:         topic,
			AppointmentID: id,
			Timestamp:     time.Now().UTC(),
			Data:          data,
		})
	}, presence.OnRelease(func() {
		data, _ := json.Marshal(map[string]string{"reason": "channel released"})
		h.hub.SendTo(client, realtime.Event{
			Type:          realtime.EventSessionClosed,
			Topic:         topic,
			AppointmentID: id,
			Timestamp:     time.Now().UTC(),
			Data:          data,
		})
		h.hub.Unregister(client)
	}))
	if err != nil {
		h.hub.Unregister(client)
		respondError(c, err, nil)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsubscribe()
		h.hub.Unregister(client)
		h.log.Warn().Err(err).Str("appointment_id", id).Msg("websocket upgrade failed")
		return
	}

	participant := who.Role.IsParticipant()
	if participant {
		h.hub.Attach(topic, who, func() {
			if err := h.orch.SetPresence(context.Background(), who, id, true); err != nil {
				h.log.Debug().Err(err).Str("appointment_id", id).Msg("presence not set on connect")
			}
		})
	}
	h.log.Info().Str("appointment_id", id).Str("client_id", client.ID).Str("role", string(who.Role)).Msg("client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws, id, func() {
		unsubscribe()
		h.hub.Unregister(client)
		if participant {
			remaining := h.hub.Detach(topic, who, func() {
				if err := h.orch.Leave(context.Background(), who, id); err != nil {
					h.log.Warn().Err(err).Str("appointment_id", id).Msg("leave on disconnect failed")
				}
			})
			if remaining > 0 {
				h.log.Debug().Str("appointment_id", id).Int("connections", remaining).Msg("participant still connected")
			}
		}
		h.log.Info().Str("appointment_id", id).Str("client_id", client.ID).Msg("client disconnected")
	})
}

// readPump reads client frames until the connection drops, then runs done.
func (h *RealtimeHandler) readPump(client *realtime.Client, ws *websocket.Conn, appointmentID string, done func()) {
	defer func() {
		done()
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Action != "message" {
			continue
		}
		if _, err := h.orch.SendMessage(context.Background(), client.Actor, appointmentID, msg.ID, msg.Text); err != nil {
			data, _ := json.Marshal(map[string]string{"error": err.Error(), "id": msg.ID})
			h.hub.SendTo(client, realtime.Event{
				Type:          realtime.EventError,
				Topic:         realtime.Topic(appointmentID),
				AppointmentID: appointmentID,
				Timestamp:     time.Now().UTC(),
				Data:          data,
			})
		}
	}
}

// writePump drains the client's Send channel and keeps the connection alive.
func (h *RealtimeHandler) writePump(client *realtime.Client, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

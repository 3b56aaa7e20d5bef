// Package realtime pushes session notifications and chat to connected
// clients over WebSockets. Clients are grouped by topic; every appointment
// has the topic "appointment/<id>".
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"teleconsult-server/internal/consult"
	"teleconsult-server/internal/models"
)

// Event is one frame sent to a client.
type Event struct {
	Type          string          `json:"type"`
	Topic         string          `json:"topic"`
	AppointmentID string          `json:"appointmentId"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// Event types besides the session notification types.
const (
	EventMessages = "messages"
	EventError    = "error"
	// EventSessionClosed is the last frame of a stream the server ends.
	EventSessionClosed = consult.NoteSessionClosed
)

// Topic returns the topic of an appointment.
func Topic(appointmentID string) string { return "appointment/" + appointmentID }

// Client is a single WebSocket connection.
type Client struct {
	ID     string
	Actor  models.Actor
	Topics []string
	Send   chan []byte
}

// NewClient creates a client with a buffered send queue.
func NewClient(id string, actor models.Actor, topics ...string) *Client {
	return &Client{ID: id, Actor: actor, Topics: topics, Send: make(chan []byte, 256)}
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	holds   map[holdKey]*hold
	log     zerolog.Logger
}

type holdKey struct {
	topic   string
	subject string
	role    models.Role
}

// hold counts the open connections of one actor on one topic. Its lock
// serialises the first-connect and last-disconnect callbacks.
type hold struct {
	mu   sync.Mutex
	n    int
	dead bool
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		holds:   make(map[holdKey]*hold),
		log:     log.With().Str("component", "realtime").Logger(),
	}
}

// Register adds a client and subscribes it to its topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}
	delete(h.all, client)
	close(client.Send)
}

// Attach counts a connection of actor on topic and returns the actor's
// open connection count. first runs when it is the actor's only connection.
// Attach and Detach calls for the same actor and topic never overlap.
func (h *Hub) Attach(topic string, actor models.Actor, first func()) int {
	k := holdKey{topic: topic, subject: actor.SubjectID, role: actor.Role}
	for {
		hd := h.hold(k)
		hd.mu.Lock()
		if hd.dead {
			hd.mu.Unlock()
			continue
		}
		hd.n++
		n := hd.n
		if n == 1 && first != nil {
			first()
		}
		hd.mu.Unlock()
		return n
	}
}

// Detach uncounts a connection counted by Attach and returns how many remain.
// last runs when none remain.
func (h *Hub) Detach(topic string, actor models.Actor, last func()) int {
	k := holdKey{topic: topic, subject: actor.SubjectID, role: actor.Role}
	h.mu.RLock()
	hd, ok := h.holds[k]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	hd.mu.Lock()
	defer hd.mu.Unlock()
	if hd.dead || hd.n == 0 {
		return 0
	}
	hd.n--
	if hd.n > 0 {
		return hd.n
	}
	if last != nil {
		last()
	}
	h.mu.Lock()
	hd.dead = true
	if h.holds[k] == hd {
		delete(h.holds, k)
	}
	h.mu.Unlock()
	return 0
}

// Connections returns the number of connections Attach counted for actor on topic.
func (h *Hub) Connections(topic string, actor models.Actor) int {
	h.mu.RLock()
	hd, ok := h.holds[holdKey{topic: topic, subject: actor.SubjectID, role: actor.Role}]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return hd.n
}

func (h *Hub) hold(k holdKey) *hold {
	h.mu.Lock()
	defer h.mu.Unlock()
	hd, ok := h.holds[k]
	if !ok || hd.dead {
		hd = &hold{}
		h.holds[k] = hd
	}
	return hd
}

// Broadcast sends an event to every client on the topic. A client whose
// buffer is full misses the frame instead of blocking the sender.
func (h *Hub) Broadcast(topic string, event Event) {
	event.Topic = topic
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.log.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, frame dropped")
		}
	}
}

// SendTo queues an event for a single registered client.
func (h *Hub) SendTo(client *Client, event Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.all[client]; !ok {
		return false
	}
	select {
	case client.Send <- data:
		return true
	default:
		return false
	}
}

// Notify implements consult.Notifier.
func (h *Hub) Notify(n consult.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.log.Error().Err(err).Str("type", n.Type).Msg("failed to marshal notification")
		return
	}
	h.Broadcast(Topic(n.AppointmentID), Event{
		Type:          n.Type,
		AppointmentID: n.AppointmentID,
		Timestamp:     n.At,
		Data:          data,
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients on a topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

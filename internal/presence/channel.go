// Package presence synchronises the two participants of a consultation: who
// is online, and the ordered chat log. Writes are serialised per appointment;
// different appointments never share a lock.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"teleconsult-server/internal/models"
	"teleconsult-server/internal/utils"
)

var (
	ErrChannelUnavailable = errors.New("messaging channel unavailable")
	ErrInvalidRole        = errors.New("role cannot take part in a consultation channel")
	ErrEmptyMessage       = errors.New("message text is empty")
)

// Handler receives message batches. The first call after Subscribe carries
// the full history (possibly empty); later calls carry newly appended
// messages in append order. The same message may be delivered more than once.
type Handler func(batch []models.Message)

// PresenceListener is told about every presence change.
type PresenceListener func(state models.PresenceState)

// Channel is the presence and messaging channel.
type Channel struct {
	backend    Backend
	retry      utils.RetryPolicy
	log        zerolog.Logger
	onPresence PresenceListener

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	// closed is set under mu once the room is released; a closed room is
	// replaced on the next lookup.
	closed atomic.Bool
}

// Option configures a Channel.
type Option func(*Channel)

// WithRetry overrides the retry policy used against the backend.
func WithRetry(p utils.RetryPolicy) Option {
	return func(c *Channel) { c.retry = p }
}

// WithPresenceListener registers a listener for presence changes.
func WithPresenceListener(l PresenceListener) Option {
	return func(c *Channel) { c.onPresence = l }
}

// NewChannel creates a Channel over the given backend.
func NewChannel(backend Backend, log zerolog.Logger, opts ...Option) *Channel {
	c := &Channel{
		backend: backend,
		retry:   utils.DefaultRetryPolicy(),
		log:     log.With().Str("component", "presence").Logger(),
		rooms:   make(map[string]*room),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) room(appointmentID string) *room {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[appointmentID]
	if !ok || r.closed.Load() {
		r = &room{subs: make(map[uint64]*subscriber)}
		c.rooms[appointmentID] = r
	}
	return r
}

// lockRoom returns the appointment's live room with its lock held.
func (c *Channel) lockRoom(appointmentID string) *room {
	for {
		r := c.room(appointmentID)
		r.mu.Lock()
		if !r.closed.Load() {
			return r
		}
		r.mu.Unlock()
	}
}

// SendMessage appends msg to the appointment's log and fans it out to the
// current subscribers. A missing ID or timestamp is filled in; resending a
// message with the same ID does not append it twice.
func (c *Channel) SendMessage(ctx context.Context, appointmentID string, msg models.Message) (models.Message, error) {
	if !msg.SenderRole.IsParticipant() {
		return models.Message{}, ErrInvalidRole
	}
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return models.Message{}, ErrEmptyMessage
	}
	msg.AppointmentID = appointmentID
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	r := c.lockRoom(appointmentID)
	defer r.mu.Unlock()

	err := utils.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.backend.Append(ctx, &msg)
	})
	if err != nil {
		c.log.Warn().Err(err).Str("appointment_id", appointmentID).Msg("message append failed")
		return models.Message{}, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	for _, sub := range r.subs {
		sub.enqueue([]models.Message{msg})
	}
	return msg, nil
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscriber)

// WithRole records who holds the subscription. CleanupIfEmpty never
// releases a room while a doctor or patient subscription is open in it.
func WithRole(role models.Role) SubscribeOption {
	return func(s *subscriber) { s.role = role }
}

// OnRelease registers f to run once the subscription has been ended by
// CleanupIfEmpty, after every batch queued before the release was delivered.
// It is not called on unsubscribe.
func OnRelease(f func()) SubscribeOption {
	return func(s *subscriber) { s.onRelease = f }
}

// Subscribe registers handler for the appointment. afterSeq lets a
// reconnecting client skip history it already has; pass 0 for everything.
// The returned function unsubscribes and is safe to call more than once.
func (c *Channel) Subscribe(ctx context.Context, appointmentID string, afterSeq int64, handler Handler, opts ...SubscribeOption) (func(), error) {
	r := c.lockRoom(appointmentID)
	defer r.mu.Unlock()

	var history []models.Message
	err := utils.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		history, err = c.backend.History(ctx, appointmentID, afterSeq)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	if history == nil {
		history = []models.Message{}
	}

	sub := newSubscriber(handler)
	for _, opt := range opts {
		opt(sub)
	}
	sub.enqueue(history)
	id := r.nextID
	r.nextID++
	r.subs[id] = sub
	go sub.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			sub.close()
		})
	}, nil
}

// History returns the stored log after afterSeq.
func (c *Channel) History(ctx context.Context, appointmentID string, afterSeq int64) ([]models.Message, error) {
	var history []models.Message
	err := utils.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		history, err = c.backend.History(ctx, appointmentID, afterSeq)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return history, nil
}

// SetPresence records role as online or offline. Last write wins.
func (c *Channel) SetPresence(ctx context.Context, appointmentID string, role models.Role, online bool) error {
	if !role.IsParticipant() {
		return ErrInvalidRole
	}
	r := c.lockRoom(appointmentID)
	err := utils.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.backend.SetPresence(ctx, appointmentID, role, online)
	})
	r.mu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Str("appointment_id", appointmentID).Str("role", string(role)).Msg("presence update failed")
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	c.log.Debug().Str("appointment_id", appointmentID).Str("role", string(role)).Bool("online", online).Msg("presence")
	if c.onPresence != nil {
		if st, err := c.backend.Presence(ctx, appointmentID); err == nil {
			c.onPresence(st)
		}
	}
	return nil
}

// Presence returns both flags. When the backend is unreachable the returned
// state shows both participants disconnected alongside ErrChannelUnavailable.
func (c *Channel) Presence(ctx context.Context, appointmentID string) (models.PresenceState, error) {
	st, err := c.backend.Presence(ctx, appointmentID)
	if err != nil {
		return models.PresenceState{AppointmentID: appointmentID}, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return st, nil
}

// CleanupIfEmpty releases the appointment's in-process resources (the
// subscriber set) when both participants are offline and no doctor or
// patient subscription is still open. Remaining watchers are ended through
// their OnRelease callback. The message log is kept. It reports whether
// anything was released.
func (c *Channel) CleanupIfEmpty(ctx context.Context, appointmentID string) (bool, error) {
	c.mu.Lock()
	r, ok := c.rooms[appointmentID]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}

	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		return false, nil
	}
	// Presence writes hold the room lock, so the state read here cannot
	// change before the room is closed.
	st, err := c.backend.Presence(ctx, appointmentID)
	if err != nil {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	if !st.Empty() || r.hasParticipant() {
		r.mu.Unlock()
		return false, nil
	}
	r.closed.Store(true)
	for id, sub := range r.subs {
		sub.release()
		delete(r.subs, id)
	}
	r.mu.Unlock()

	c.mu.Lock()
	if c.rooms[appointmentID] == r {
		delete(c.rooms, appointmentID)
	}
	c.mu.Unlock()
	c.log.Info().Str("appointment_id", appointmentID).Msg("channel released")
	return true, nil
}

func (r *room) hasParticipant() bool {
	for _, sub := range r.subs {
		if sub.role.IsParticipant() {
			return true
		}
	}
	return false
}

// Subscribers returns the number of live subscribers for the appointment.
func (c *Channel) Subscribers(appointmentID string) int {
	c.mu.Lock()
	r, ok := c.rooms[appointmentID]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// subscriber delivers batches to one handler from its own goroutine, so a
// slow consumer never blocks writers and never loses messages.
type subscriber struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    [][]models.Message
	closed   bool
	released bool
	handler  Handler

	role      models.Role
	onRelease func()
}

func newSubscriber(h Handler) *subscriber {
	s := &subscriber{handler: h}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) enqueue(batch []models.Message) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, batch)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber) release() {
	s.mu.Lock()
	s.closed = true
	s.released = true
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			released := s.released
			s.mu.Unlock()
			if released && s.onRelease != nil {
				s.onRelease()
			}
			return
		}
		batch := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(batch)
	}
}

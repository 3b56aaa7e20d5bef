package media

import (
	"strings"
	"sync"
	"time"
)

// Signals are the two booleans the media transport reports about the remote side.
type Signals struct {
	RemoteVideo     bool      `json:"remoteVideo"`
	RemoteConnected bool      `json:"remoteConnected"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Tracker keeps the latest signals per appointment and role.
type Tracker struct {
	mu      sync.Mutex
	signals map[string]Signals
}

func NewTracker() *Tracker {
	return &Tracker{signals: make(map[string]Signals)}
}

func trackerKey(appointmentID, reporter string) string { return appointmentID + "/" + reporter }

// Report stores what reporter's client sees and says whether it changed.
func (t *Tracker) Report(appointmentID, reporter string, s Signals) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := trackerKey(appointmentID, reporter)
	prev, ok := t.signals[key]
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	t.signals[key] = s
	return !ok || prev.RemoteVideo != s.RemoteVideo || prev.RemoteConnected != s.RemoteConnected
}

// Get returns the last signals reporter sent for the appointment.
func (t *Tracker) Get(appointmentID, reporter string) (Signals, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.signals[trackerKey(appointmentID, reporter)]
	return s, ok
}

// Forget drops everything about the appointment.
func (t *Tracker) Forget(appointmentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := appointmentID + "/"
	for k := range t.signals {
		if strings.HasPrefix(k, prefix) {
			delete(t.signals, k)
		}
	}
}

package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACIssuer_IssueAndVerify(t *testing.T) {
	i := NewHMACIssuer("app-1", "media-secret", 30*time.Minute)
	tok, err := i.Issue(context.Background(), "appt-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "app-1", tok.AppID)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), tok.ExpiresAt, time.Minute)

	channel, uid, err := i.Verify(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "appt-1", channel)
	assert.Equal(t, "doc-1", uid)

	_, _, err = NewHMACIssuer("app-1", "other", time.Minute).Verify(tok.Token)
	assert.Error(t, err)
}

func TestHMACIssuer_Failures(t *testing.T) {
	_, err := NewHMACIssuer("app", "", time.Minute).Issue(context.Background(), "c", "u")
	assert.ErrorIs(t, err, ErrTokenIssuance)
	_, err = NewHMACIssuer("app", "s", time.Minute).Issue(context.Background(), "", "u")
	assert.ErrorIs(t, err, ErrTokenIssuance)
}

func TestHTTPIssuer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("channel") == "down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "pat-1", r.URL.Query().Get("uid"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"remote-token"}`))
	}))
	defer srv.Close()

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	i := NewHTTPIssuer(srv.URL+"/token", "app", time.Minute, srv.Client())
	i.now = func() time.Time { return now }
	tok, err := i.Issue(context.Background(), "appt-1", "pat-1")
	require.NoError(t, err)
	assert.Equal(t, "remote-token", tok.Token)
	assert.Equal(t, now.Add(time.Minute), tok.ExpiresAt)

	_, err = i.Issue(context.Background(), "down", "pat-1")
	assert.ErrorIs(t, err, ErrTokenIssuance)
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	assert.True(t, tr.Report("appt-1", "doctor", Signals{RemoteConnected: true}))
	assert.False(t, tr.Report("appt-1", "doctor", Signals{RemoteConnected: true}))
	assert.True(t, tr.Report("appt-1", "doctor", Signals{RemoteConnected: true, RemoteVideo: true}))

	s, ok := tr.Get("appt-1", "doctor")
	require.True(t, ok)
	assert.True(t, s.RemoteVideo)

	tr.Forget("appt-1")
	_, ok = tr.Get("appt-1", "doctor")
	assert.False(t, ok)
}

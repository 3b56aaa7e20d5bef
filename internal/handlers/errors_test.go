package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"teleconsult-server/internal/appointment"
	"teleconsult-server/internal/consult"
	"teleconsult-server/internal/draft"
	"teleconsult-server/internal/media"
	"teleconsult-server/internal/presence"
	"teleconsult-server/internal/session"
)

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		err  error
		want int
	}{
		{&appointment.TransitionError{Action: appointment.ActionStart}, http.StatusConflict},
		{appointment.ErrForbidden, http.StatusForbidden},
		{appointment.ErrNotFound, http.StatusNotFound},
		{appointment.ErrSlotTaken, http.StatusConflict},
		{appointment.ErrInvalidBooking, http.StatusBadRequest},
		{consult.ErrNoSession, http.StatusNotFound},
		{consult.ErrConfirmationRequired, http.StatusPreconditionRequired},
		{consult.ErrCommitPending, http.StatusConflict},
		{fmt.Errorf("%w: %w", consult.ErrCommitPending, draft.ErrCommitFailed), http.StatusServiceUnavailable},
		{draft.ErrRecordNotFound, http.StatusNotFound},
		{session.ErrNoPendingPrompt, http.StatusConflict},
		{session.ErrAlreadyExtended, http.StatusConflict},
		{presence.ErrChannelUnavailable, http.StatusServiceUnavailable},
		{presence.ErrEmptyMessage, http.StatusBadRequest},
		{media.ErrTokenIssuance, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			respondError(c, tt.err, nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRespondError_CommitFailureIsNotDurable(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	snap := &consult.Snapshot{AppointmentID: "a1", Phase: consult.PhaseCommitPending}

	respondError(c, fmt.Errorf("finish: %w", draft.ErrCommitFailed), snap)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"durable":false`)
	assert.Contains(t, w.Body.String(), `"phase":"commit_pending"`)
}

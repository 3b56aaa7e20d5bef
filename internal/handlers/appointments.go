package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"teleconsult-server/internal/appointment"
	"teleconsult-server/internal/models"
	"teleconsult-server/internal/utils"
)

// AppointmentHandler handles appointment related requests.
type AppointmentHandler struct {
	appts *appointment.Manager
}

// NewAppointmentHandler creates a new AppointmentHandler.
func NewAppointmentHandler(appts *appointment.Manager) *AppointmentHandler {
	return &AppointmentHandler{appts: appts}
}

// CreateAppointmentRequest represents the request body for creating an appointment.
type CreateAppointmentRequest struct {
	DoctorID      string `json:"doctorId" binding:"required"`
	PatientID     string `json:"patientId"` // defaults to the caller for patients
	Type          string `json:"type" binding:"required,oneof=ONLINE OFFLINE"`
	ScheduledDate string `json:"scheduledDate" binding:"required,datetime=2006-01-02"`
	Slot          string `json:"slot" binding:"required"`
	Reason        string `json:"reason" binding:"max=2000"`
}

// CreateAppointment handles booking a new appointment.
func (h *AppointmentHandler) CreateAppointment(c *gin.Context) {
	var req CreateAppointmentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	who, ok := actor(c)
	if !ok {
		return
	}
	if req.PatientID == "" && who.Role == models.RolePatient {
		req.PatientID = who.SubjectID
	}
	if req.PatientID == "" {
		utils.BadRequest(c, "patientId is required")
		return
	}

	day, err := time.ParseInLocation(time.DateOnly, req.ScheduledDate, time.Local)
	if err != nil {
		utils.BadRequest(c, "Invalid scheduledDate")
		return
	}

	a, err := h.appts.Book(c.Request.Context(), who, appointment.BookRequest{
		DoctorID:      req.DoctorID,
		PatientID:     req.PatientID,
		Type:          models.AppointmentType(req.Type),
		ScheduledDate: day,
		Slot:          models.Slot(req.Slot),
		Reason:        req.Reason,
	})
	if err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Created(c, "Appointment created successfully", a)
}

// GetAppointmentsForUser lists the caller's appointments.
func (h *AppointmentHandler) GetAppointmentsForUser(c *gin.Context) {
	who, ok := actor(c)
	if !ok {
		return
	}
	list, err := h.appts.List(c.Request.Context(), who)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Success(c, "Appointments retrieved successfully", list)
}

// GetAppointmentByID returns one appointment the caller takes part in.
func (h *AppointmentHandler) GetAppointmentByID(c *gin.Context) {
	who, ok := actor(c)
	if !ok {
		return
	}
	a, err := h.appts.Get(c.Request.Context(), who, c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Success(c, "Appointment retrieved successfully", a)
}

type transitionFunc func(ctx context.Context, actor models.Actor, id string) (*models.Appointment, error)

func transition(message string, fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		who, ok := actor(c)
		if !ok {
			return
		}
		a, err := fn(c.Request.Context(), who, c.Param("id"))
		if err != nil {
			respondError(c, err, nil)
			return
		}
		utils.Success(c, message, a)
	}
}

// ConfirmAppointment moves a PENDING appointment to CONFIRMED.
func (h *AppointmentHandler) ConfirmAppointment() gin.HandlerFunc {
	return transition("Appointment confirmed", h.appts.Confirm)
}

// DenyAppointment moves a PENDING appointment to DENIED.
func (h *AppointmentHandler) DenyAppointment() gin.HandlerFunc {
	return transition("Appointment denied", h.appts.Deny)
}

// CancelAppointment cancels a PENDING or CONFIRMED appointment.
func (h *AppointmentHandler) CancelAppointment() gin.HandlerFunc {
	return transition("Appointment cancelled", h.appts.Cancel)
}

// CompleteOffline finishes a CONFIRMED in-clinic appointment.
func (h *AppointmentHandler) CompleteOffline() gin.HandlerFunc {
	return transition("Appointment completed", h.appts.CompleteOffline)
}

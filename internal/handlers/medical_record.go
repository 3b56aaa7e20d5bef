package handlers

import (
	"github.com/gin-gonic/gin"

	"teleconsult-server/internal/consult"
	"teleconsult-server/internal/models"
	"teleconsult-server/internal/utils"
)

// MedicalRecordHandler serves the working draft and the committed records.
type MedicalRecordHandler struct {
	orch *consult.Orchestrator
}

// NewMedicalRecordHandler creates a new MedicalRecordHandler.
func NewMedicalRecordHandler(orch *consult.Orchestrator) *MedicalRecordHandler {
	return &MedicalRecordHandler{orch: orch}
}

// GetDraft returns the working draft of an ONGOING appointment.
func (h *MedicalRecordHandler) GetDraft(c *gin.Context) {
	who, ok := actor(c)
	if !ok {
		return
	}
	d, err := h.orch.LoadDraft(c.Request.Context(), who, c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Success(c, "Draft retrieved successfully", d)
}

// SaveDraftRequest is the editable part of a draft.
type SaveDraftRequest struct {
	ChiefComplaint     string                `json:"chiefComplaint" binding:"max=2000"`
	DiagnosisPrimary   string                `json:"diagnosisPrimary" binding:"max=500"`
	DiagnosisSecondary []string              `json:"diagnosisSecondary" binding:"max=20,dive,max=500"`
	ICDCodes           []string              `json:"icdCodes" binding:"max=20,dive,max=16"`
	VitalSigns         models.VitalSigns     `json:"vitalSigns"`
	Prescriptions      []models.Prescription `json:"prescriptions" binding:"max=50,dive"`
	Notes              string                `json:"notes" binding:"max=20000"`
}

// SaveDraft overwrites the working draft.
func (h *MedicalRecordHandler) SaveDraft(c *gin.Context) {
	var req SaveDraftRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	who, ok := actor(c)
	if !ok {
		return
	}
	d, err := h.orch.SaveDraft(c.Request.Context(), who, c.Param("id"), models.DraftRecord{
		AppointmentID:      c.Param("id"),
		ChiefComplaint:     req.ChiefComplaint,
		DiagnosisPrimary:   req.DiagnosisPrimary,
		DiagnosisSecondary: req.DiagnosisSecondary,
		ICDCodes:           req.ICDCodes,
		VitalSigns:         req.VitalSigns,
		Prescriptions:      req.Prescriptions,
		Notes:              req.Notes,
	})
	if err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Success(c, "Draft saved successfully", d)
}

// GenerateSummary attaches an AI summary, or a composed one when the
// generator is unavailable, to the draft notes.
func (h *MedicalRecordHandler) GenerateSummary(c *gin.Context) {
	who, ok := actor(c)
	if !ok {
		return
	}
	res, err := h.orch.GenerateSummary(c.Request.Context(), who, c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Success(c, "Summary generated", res)
}

// RemoveSummary strips the AI block from the draft notes.
func (h *MedicalRecordHandler) RemoveSummary(c *gin.Context) {
	who, ok := actor(c)
	if !ok {
		return
	}
	d, err := h.orch.RemoveSummary(c.Request.Context(), who, c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Success(c, "Summary removed", d)
}

// GetRecordForAppointment returns the committed record of an appointment.
func (h *MedicalRecordHandler) GetRecordForAppointment(c *gin.Context) {
	who, ok := actor(c)
	if !ok {
		return
	}
	rec, err := h.orch.Record(c.Request.Context(), who, c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Success(c, "Medical record retrieved successfully", rec)
}

// GetMedicalRecordsForPatient lists a patient's records.
func (h *MedicalRecordHandler) GetMedicalRecordsForPatient(c *gin.Context) {
	who, ok := actor(c)
	if !ok {
		return
	}
	recs, err := h.orch.PatientRecords(c.Request.Context(), who, c.Param("patientId"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	utils.Success(c, "Medical records retrieved successfully", recs)
}

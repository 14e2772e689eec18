package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ward-backend/models"
	"ward-backend/services"
	"ward-backend/utils"
)

type PatientController struct {
	responder
	coordinator *services.Coordinator
}

func NewPatientController(coordinator *services.Coordinator, log *zap.Logger, development bool) *PatientController {
	if log == nil {
		log = zap.NewNop()
	}
	return &PatientController{
		responder:   responder{log: log, dev: development},
		coordinator: coordinator,
	}
}

func (pc *PatientController) invalidDate(c *gin.Context) {
	utils.JSONErrorDetails(c, http.StatusBadRequest, string(services.KindInvalidInput), "invalid admission_date", "")
}

// AdmitPatient creates a patient in the requested room.
func (pc *PatientController) AdmitPatient(c *gin.Context) {
	var req admitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		pc.bindError(c, err)
		return
	}
	admitted, err := parseDate(req.AdmissionDate)
	if err != nil {
		pc.invalidDate(c)
		return
	}
	patient := &models.Patient{
		Name:                strings.TrimSpace(req.Name),
		Age:                 req.Age,
		Phone:               req.Phone,
		EmergencyPhone:      req.EmergencyPhone,
		MedicalHistory:      req.MedicalHistory,
		DoctorName:          strings.TrimSpace(req.DoctorName),
		BloodGroup:          strings.ToUpper(strings.TrimSpace(req.BloodGroup)),
		Insurance:           req.Insurance,
		AdmissionDate:       admitted,
		AdmissionReason:     req.AdmissionReason,
		MedicalRecordNumber: req.MedicalRecordNumber,
	}
	p, err := pc.coordinator.Admit(c.Request.Context(), caller(c), services.AdmitRequest{
		Patient: patient,
		RoomID:  req.RoomID,
	})
	if err != nil {
		pc.respondError(c, err)
		return
	}
	utils.JSONMessage(c, http.StatusCreated, "patient admitted successfully", p)
}

// UpdatePatient applies field changes and moves the patient when room_id
// names a different room.
func (pc *PatientController) UpdatePatient(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req updatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		pc.bindError(c, err)
		return
	}
	fields := services.PatientFields{
		Name:                req.Name,
		Age:                 req.Age,
		Phone:               req.Phone,
		EmergencyPhone:      req.EmergencyPhone,
		MedicalHistory:      req.MedicalHistory,
		DoctorName:          req.DoctorName,
		BloodGroup:          req.BloodGroup,
		Insurance:           req.Insurance,
		AdmissionReason:     req.AdmissionReason,
		MedicalRecordNumber: req.MedicalRecordNumber,
	}
	if fields.BloodGroup != nil {
		bg := strings.ToUpper(strings.TrimSpace(*fields.BloodGroup))
		fields.BloodGroup = &bg
	}
	if req.AdmissionDate != nil {
		t, err := parseDate(*req.AdmissionDate)
		if err != nil {
			pc.invalidDate(c)
			return
		}
		fields.AdmissionDate = &t
	}

	p, err := pc.coordinator.UpdatePatient(c.Request.Context(), caller(c), services.PatientUpdate{
		ID:     id,
		Fields: fields,
		RoomID: req.RoomID,
	})
	if err != nil {
		pc.respondError(c, err)
		return
	}
	utils.JSONMessage(c, http.StatusOK, "patient updated successfully", p)
}

func (pc *PatientController) GetPatient(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	p, err := pc.coordinator.Patient(c.Request.Context(), caller(c), id)
	if err != nil {
		pc.respondError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, p)
}

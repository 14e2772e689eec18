package controllers

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var bloodGroups = map[string]bool{
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}

func validBloodGroup(fl validator.FieldLevel) bool {
	return bloodGroups[strings.ToUpper(strings.TrimSpace(fl.Field().String()))]
}

var registerOnce sync.Once

// RegisterValidators adds the custom binding rules to gin's validator.
func RegisterValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("blood_group", validBloodGroup)
		}
	})
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

type roomRequest struct {
	RoomNumber string `json:"room_number" binding:"required"`
	Floor      *int   `json:"floor" binding:"required"`
}

type admitRequest struct {
	Name                string  `json:"name" binding:"required"`
	Age                 int     `json:"age" binding:"required,gt=0,lt=150"`
	Phone               *string `json:"phone"`
	EmergencyPhone      *string `json:"emergency_phone"`
	MedicalHistory      string  `json:"medical_history"`
	DoctorName          string  `json:"doctor_name" binding:"required"`
	BloodGroup          string  `json:"blood_group" binding:"required,blood_group"`
	RoomID              uint    `json:"room_id" binding:"required"`
	AdmissionDate       string  `json:"admission_date" binding:"required"`
	Insurance           string  `json:"insurance"`
	AdmissionReason     string  `json:"admission_reason"`
	MedicalRecordNumber *string `json:"medical_record_number"`
}

type updatePatientRequest struct {
	Name                *string `json:"name" binding:"omitempty,min=1"`
	Age                 *int    `json:"age" binding:"omitempty,gt=0,lt=150"`
	Phone               *string `json:"phone"`
	EmergencyPhone      *string `json:"emergency_phone"`
	MedicalHistory      *string `json:"medical_history"`
	DoctorName          *string `json:"doctor_name" binding:"omitempty,min=1"`
	BloodGroup          *string `json:"blood_group" binding:"omitempty,blood_group"`
	RoomID              *uint   `json:"room_id"`
	AdmissionDate       *string `json:"admission_date"`
	Insurance           *string `json:"insurance"`
	AdmissionReason     *string `json:"admission_reason"`
	MedicalRecordNumber *string `json:"medical_record_number"`
}

type reserveRequest struct {
	PatientID uint `json:"patientId" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role" binding:"omitempty,oneof=admin doctor nurse"`
}

package models

import "time"

type Patient struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Name                string    `gorm:"size:255;not null" json:"name"`
	Age                 int       `gorm:"not null" json:"age"`
	Phone               *string   `gorm:"size:32" json:"phone"`
	EmergencyPhone      *string   `gorm:"column:emergency_phone;size:32" json:"emergency_phone"`
	MedicalHistory      string    `gorm:"column:medical_history;type:text" json:"medical_history"`
	DoctorName          string    `gorm:"column:doctor_name;size:255;not null" json:"doctor_name"`
	BloodGroup          string    `gorm:"column:blood_group;size:5;not null" json:"blood_group"`
	Insurance           string    `gorm:"size:64;default:No" json:"insurance"`
	AdmissionDate       time.Time `gorm:"column:admission_date" json:"admission_date"`
	AdmissionReason     string    `gorm:"column:admission_reason;size:255" json:"admission_reason"`
	MedicalRecordNumber *string   `gorm:"column:medical_record_number;size:64;uniqueIndex" json:"medical_record_number,omitempty"`

	// RoomID is a lookup reference, set only by admit/reserve/transfer and
	// cleared only by checkout.
	RoomID *uint `gorm:"column:room_id;index" json:"room_id"`
	Room   *Room `gorm:"foreignKey:RoomID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`

	UserID    uint      `gorm:"column:user_id;not null;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InRoom reports whether the patient currently references roomID.
func (p *Patient) InRoom(roomID uint) bool {
	return p.RoomID != nil && *p.RoomID == roomID
}

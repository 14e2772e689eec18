package models

import "time"

// Room is a ward room. Occupied is owned by the room ledger and is only
// changed together with a patient's RoomID inside one allocation transaction.
type Room struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RoomNumber string    `gorm:"column:room_number;size:50;not null;uniqueIndex:idx_room_number_floor" json:"room_number"`
	Floor      int       `gorm:"column:floor;not null;uniqueIndex:idx_room_number_floor" json:"floor"`
	Occupied   bool      `gorm:"column:occupied;not null;default:false;index" json:"occupied"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoomOccupancy is the ward view of a room with its current occupant, if any.
type RoomOccupancy struct {
	Room
	PatientID   *uint  `json:"patient_id,omitempty"`
	PatientName string `json:"patient_name,omitempty"`
	DoctorName  string `json:"doctor_name,omitempty"`
	BloodGroup  string `json:"blood_group,omitempty"`
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	EventAdmit    = "admit"
	EventReserve  = "reserve"
	EventTransfer = "transfer"
	EventCheckout = "checkout"
)

// OutcomeCommitted marks an event written in the same transaction as the
// state change it describes. Rejected attempts carry the error kind instead.
const OutcomeCommitted = "committed"

// AllocationEvent records one admit, reserve, transfer or checkout attempt.
type AllocationEvent struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Kind       string         `gorm:"size:20;not null;index" json:"kind"`
	PatientID  uint           `gorm:"column:patient_id;index" json:"patient_id"`
	FromRoomID *uint          `gorm:"column:from_room_id;index" json:"from_room_id"`
	ToRoomID   *uint          `gorm:"column:to_room_id;index" json:"to_room_id"`
	ActorID    uint           `gorm:"column:actor_id" json:"actor_id"`
	Outcome    string         `gorm:"size:40;not null" json:"outcome"`
	Details    datatypes.JSON `gorm:"type:json" json:"details,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

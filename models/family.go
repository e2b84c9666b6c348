package models

import (
	"time"
)

// Family groups dependants under one holder account. Mirrored locally from
// the membership side of the platform.
type Family struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	HolderID string `json:"holder_id" gorm:"type:uuid;not null;index"` // user id of the holder
	Name     string `json:"name"`

	Timestamps
}

// Dependant is a family member who can compete.
type Dependant struct {
	ID        string     `json:"id" gorm:"primaryKey;type:uuid"`
	FamilyID  string     `json:"family_id" gorm:"type:uuid;not null;index"`
	FirstName string     `json:"first_name" gorm:"not null"`
	LastName  string     `json:"last_name" gorm:"not null"`
	BirthDate *time.Time `json:"birth_date,omitempty"`

	Timestamps
}

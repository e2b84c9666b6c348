package models

import (
	"time"

	"gorm.io/gorm"
)

// Tournament is the competition competitors register for. Only the
// registration window and the version token matter to registration; the
// rest is descriptive.
type Tournament struct {
	ID                    string    `json:"id" gorm:"primaryKey;type:uuid"`
	Name                  string    `json:"name" gorm:"not null"`
	Slug                  string    `json:"slug" gorm:"uniqueIndex;not null"`
	Description           string    `json:"description"`
	StartTime             time.Time `json:"start_time"`
	EndTime               time.Time `json:"end_time"`
	RegistrationStartDate time.Time `json:"registration_start_date" gorm:"not null"`
	RegistrationEndDate   time.Time `json:"registration_end_date" gorm:"not null"`

	// Version is the optimistic-concurrency token bumped by every
	// registration-affecting write (create, accept, reject).
	Version int `json:"version" gorm:"not null;default:0"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// IsDeleted reports whether the tournament was soft-deleted.
func (t *Tournament) IsDeleted() bool {
	return t.DeletedAt.Valid
}

// CheckWindowOpen gates registration on [RegistrationStartDate, RegistrationEndDate).
func (t *Tournament) CheckWindowOpen(now time.Time) error {
	if t.IsDeleted() {
		return ErrNotFound
	}
	if now.Before(t.RegistrationStartDate) {
		return ErrRegistrationNotOpenYet
	}
	if !now.Before(t.RegistrationEndDate) {
		return ErrRegistrationClosed
	}
	return nil
}

// CurrentVersion returns the token a write must present at commit time.
func (t *Tournament) CurrentVersion() int {
	return t.Version
}

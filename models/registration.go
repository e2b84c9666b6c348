package models

import (
	"time"
)

type RegistrationStatus string

const (
	RegistrationStatusPendingApproval RegistrationStatus = "PENDING_APPROVAL"
	RegistrationStatusConfirmed       RegistrationStatus = "CONFIRMED"
	RegistrationStatusRejected        RegistrationStatus = "REJECTED"
	RegistrationStatusCancelled       RegistrationStatus = "CANCELLED"
)

// ActiveRegistrationStatuses are the statuses that occupy a competitor's slot
// in a tournament.
var ActiveRegistrationStatuses = []RegistrationStatus{
	RegistrationStatusPendingApproval,
	RegistrationStatusConfirmed,
}

// IsActive reports whether the status still holds the competitor's slot.
func (s RegistrationStatus) IsActive() bool {
	return s == RegistrationStatusPendingApproval || s == RegistrationStatusConfirmed
}

type RegistrationType string

const (
	RegistrationTypeIndividual RegistrationType = "INDIVIDUAL"
	RegistrationTypeDuo        RegistrationType = "DUO"
)

// Registration is a competitor's enrollment in a tournament. Cancellation and
// rejection are terminal states; rows are never deleted.
type Registration struct {
	ID           string             `json:"id" gorm:"primaryKey;type:uuid"`
	TournamentID string             `json:"tournament_id" gorm:"type:uuid;not null;index"`
	CompetitorID string             `json:"competitor_id" gorm:"type:uuid;not null;index"`
	PartnerID    *string            `json:"partner_id,omitempty" gorm:"type:uuid;index"`
	Status       RegistrationStatus `json:"status" gorm:"type:varchar(32);not null;index"`
	Type         RegistrationType   `json:"type" gorm:"type:varchar(16);not null"`
	Version      int                `json:"version" gorm:"not null;default:1"`

	RequestedBy        string     `json:"requested_by" gorm:"not null"`
	DecidedBy          *string    `json:"decided_by,omitempty"`
	DecidedAt          *time.Time `json:"decided_at,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty" gorm:"type:text"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;autoCreateTime:false;<-:create"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;autoUpdateTime:false"`

	Sync *RegistrationSync `json:"sync,omitempty" gorm:"foreignKey:RegistrationID"`

	// Tournament is loaded alongside the registration so the version token
	// comes back in the same read. Nil when the tournament was soft-deleted.
	Tournament *Tournament `json:"-" gorm:"foreignKey:TournamentID"`
}

// NewIndividualRegistration builds a CONFIRMED registration together with its
// PENDING sync tracker.
func NewIndividualRegistration(id, syncID, tournamentID, competitorID, requestedBy string, now time.Time) *Registration {
	r := &Registration{
		ID:           id,
		TournamentID: tournamentID,
		CompetitorID: competitorID,
		Status:       RegistrationStatusConfirmed,
		Type:         RegistrationTypeIndividual,
		Version:      1,
		RequestedBy:  requestedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.Sync = NewRegistrationSync(syncID, id, now)
	return r
}

// NewDuoRegistration builds a PENDING_APPROVAL registration awaiting the
// partner holder's decision, together with its PENDING sync tracker.
func NewDuoRegistration(id, syncID, tournamentID, competitorID, partnerID, requestedBy string, now time.Time) *Registration {
	partner := partnerID
	r := &Registration{
		ID:           id,
		TournamentID: tournamentID,
		CompetitorID: competitorID,
		PartnerID:    &partner,
		Status:       RegistrationStatusPendingApproval,
		Type:         RegistrationTypeDuo,
		Version:      1,
		RequestedBy:  requestedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.Sync = NewRegistrationSync(syncID, id, now)
	return r
}

// IsTerminal reports whether no further transition is allowed.
func (r *Registration) IsTerminal() bool {
	return r.Status == RegistrationStatusCancelled || r.Status == RegistrationStatusRejected
}

// Accept confirms a pending duo registration.
func (r *Registration) Accept(actorID string, now time.Time) error {
	return r.decide(RegistrationStatusConfirmed, actorID, now)
}

// Reject declines a pending duo registration.
func (r *Registration) Reject(actorID string, now time.Time) error {
	return r.decide(RegistrationStatusRejected, actorID, now)
}

func (r *Registration) decide(to RegistrationStatus, actorID string, now time.Time) error {
	if r.Status != RegistrationStatusPendingApproval {
		return ErrInvalidState
	}
	actor := actorID
	decidedAt := now
	r.Status = to
	r.Version++
	r.DecidedBy = &actor
	r.DecidedAt = &decidedAt
	r.UpdatedAt = now
	return nil
}

// Cancel withdraws an active registration. The version is left untouched:
// cancellation does not take part in the approval race.
func (r *Registration) Cancel(reason string, now time.Time) error {
	if !r.Status.IsActive() {
		return ErrInvalidState
	}
	cancelledAt := now
	r.Status = RegistrationStatusCancelled
	r.CancelledAt = &cancelledAt
	if reason != "" {
		rsn := reason
		r.CancellationReason = &rsn
	}
	r.UpdatedAt = now
	return nil
}

// Involves reports whether the dependant takes part in the registration in
// either role.
func (r *Registration) Involves(dependantID string) bool {
	if r.CompetitorID == dependantID {
		return true
	}
	return r.PartnerID != nil && *r.PartnerID == dependantID
}

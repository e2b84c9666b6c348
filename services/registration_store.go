package services

import (
	"context"
	"time"

	"registration-system/models"
)

// RegistrationStore is the persistence contract of the coordinator. Every
// write method is a single atomic unit: either all of it commits or none.
type RegistrationStore interface {
	// GetTournament returns ErrNotFound for missing or soft-deleted tournaments.
	GetTournament(ctx context.Context, id string) (*models.Tournament, error)
	// GetRegistration loads the registration with its sync tracker and its
	// (non-deleted) tournament in one read.
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)
	ListRegistrations(ctx context.Context, tournamentID string) ([]models.Registration, error)
	// HasActiveRegistration reports whether the dependant holds a pending or
	// confirmed registration in the tournament, as competitor or partner.
	HasActiveRegistration(ctx context.Context, tournamentID, dependantID string) (bool, error)

	// CreateRegistration inserts the registration and its tracker and bumps
	// the tournament version from tournamentVersion. A stale version yields
	// ErrVersionMismatch; a concurrent duplicate yields ErrDuplicateRegistration.
	CreateRegistration(ctx context.Context, reg *models.Registration, tournamentVersion int) error
	// ApplyTransition persists a state change read at (FromStatus, FromVersion).
	ApplyTransition(ctx context.Context, t Transition) error
}

// Transition is a registration state change to commit conditionally.
type Transition struct {
	Registration *models.Registration
	FromStatus   models.RegistrationStatus
	FromVersion  int
	// TournamentVersion, when set, is the version the tournament must still
	// have; it is bumped by one in the same unit of work.
	TournamentVersion *int
	// RearmSyncAt, when set, re-arms the registration's tracker as stored at
	// commit time. A FAILED tracker is left untouched and attempts are never
	// written from the caller's copy.
	RearmSyncAt time.Time
}

// SyncStore is what the sync dispatcher needs from persistence.
type SyncStore interface {
	DueSyncs(ctx context.Context, now time.Time, limit int) ([]models.RegistrationSync, error)
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)
	GetSyncByRegistration(ctx context.Context, registrationID string) (*models.RegistrationSync, error)
	ListSyncs(ctx context.Context, status models.SyncStatus, limit int) ([]models.RegistrationSync, error)
	// SaveSync writes the tracker only if it was not modified since
	// loadedAt; otherwise ErrConflict.
	SaveSync(ctx context.Context, s *models.RegistrationSync, loadedAt time.Time) error
}

// FamilyDirectory answers the identity questions registration depends on.
type FamilyDirectory interface {
	GetDependant(ctx context.Context, id string) (*models.Dependant, error)
	// GetFamilyHolder returns the user id of the family's holder.
	GetFamilyHolder(ctx context.Context, familyID string) (string, error)
}

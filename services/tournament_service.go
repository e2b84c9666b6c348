package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"registration-system/models"
)

// TournamentStore persists tournaments.
type TournamentStore interface {
	CreateTournament(ctx context.Context, t *models.Tournament) error
	GetTournament(ctx context.Context, id string) (*models.Tournament, error)
	// DeleteTournament soft-deletes; registrations are kept.
	DeleteTournament(ctx context.Context, id string, now time.Time) error
}

type CreateTournamentInput struct {
	Name                  string
	Description           string
	StartTime             time.Time
	EndTime               time.Time
	RegistrationStartDate time.Time
	RegistrationEndDate   time.Time
}

type TournamentService struct {
	store TournamentStore
	clock clockwork.Clock
	newID func() string
}

func NewTournamentService(store TournamentStore, clock clockwork.Clock) *TournamentService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TournamentService{store: store, clock: clock, newID: uuid.NewString}
}

// Create stores a new tournament. The slug is derived from the name, so two
// tournaments with the same name conflict.
func (s *TournamentService) Create(ctx context.Context, in CreateTournamentInput) (*models.Tournament, error) {
	if !in.RegistrationEndDate.After(in.RegistrationStartDate) {
		return nil, fmt.Errorf("%w: registration window must end after it starts", models.ErrInvalidInput)
	}
	if !in.EndTime.IsZero() && in.EndTime.Before(in.StartTime) {
		return nil, fmt.Errorf("%w: tournament ends before it starts", models.ErrInvalidInput)
	}

	now := s.clock.Now()
	t := &models.Tournament{
		ID:                    s.newID(),
		Name:                  in.Name,
		Slug:                  slug.Make(in.Name),
		Description:           in.Description,
		StartTime:             in.StartTime,
		EndTime:               in.EndTime,
		RegistrationStartDate: in.RegistrationStartDate,
		RegistrationEndDate:   in.RegistrationEndDate,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.CreateTournament(ctx, t); err != nil {
		return nil, err
	}

	zap.L().Info("🏆 [TOURNAMENT] created", zap.String("tournament_id", t.ID), zap.String("slug", t.Slug))
	return t, nil
}

func (s *TournamentService) Get(ctx context.Context, id string) (*models.Tournament, error) {
	return s.store.GetTournament(ctx, id)
}

// Delete soft-deletes the tournament. Its registrations can no longer be
// accepted, rejected or cancelled.
func (s *TournamentService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteTournament(ctx, id, s.clock.Now()); err != nil {
		return err
	}
	zap.L().Info("🗑️ [TOURNAMENT] deleted", zap.String("tournament_id", id))
	return nil
}

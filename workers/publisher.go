package workers

import (
	"context"
	"time"

	"registration-system/models"
)

//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks -source=publisher.go Publisher,DeadLetterSink

// RegistrationEvent is the payload pushed to the downstream consumer. It
// always carries the registration's current state, so replays are harmless.
type RegistrationEvent struct {
	RegistrationID string                    `json:"registration_id"`
	TournamentID   string                    `json:"tournament_id"`
	CompetitorID   string                    `json:"competitor_id"`
	PartnerID      *string                   `json:"partner_id,omitempty"`
	Status         models.RegistrationStatus `json:"status"`
	Type           models.RegistrationType   `json:"type"`
	Version        int                       `json:"version"`
	OccurredAt     time.Time                 `json:"occurred_at"`
}

func NewRegistrationEvent(reg *models.Registration) RegistrationEvent {
	return RegistrationEvent{
		RegistrationID: reg.ID,
		TournamentID:   reg.TournamentID,
		CompetitorID:   reg.CompetitorID,
		PartnerID:      reg.PartnerID,
		Status:         reg.Status,
		Type:           reg.Type,
		Version:        reg.Version,
		OccurredAt:     reg.UpdatedAt,
	}
}

// Publisher pushes one registration event. Any error counts as a failed
// attempt.
type Publisher interface {
	Publish(ctx context.Context, event RegistrationEvent) error
}

// DeadLetterSink stores events whose propagation gave up.
type DeadLetterSink interface {
	PutJSON(ctx context.Context, key string, v any) error
}

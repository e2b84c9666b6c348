package models

import (
	"time"
)

type SyncStatus string

const (
	SyncStatusPending SyncStatus = "PENDING"
	SyncStatusSynced  SyncStatus = "SYNCED"
	SyncStatusFailed  SyncStatus = "FAILED"
)

const (
	// MaxSyncAttempts bounds the recorded failed attempts of a tracker.
	MaxSyncAttempts = 3
	syncBackoffBase = 5 * time.Minute
)

// RegistrationSync tracks propagation of one registration to the external
// consumer. Retry state lives here rather than in timers so it survives
// restarts.
type RegistrationSync struct {
	ID             string     `json:"id" gorm:"primaryKey;type:uuid"`
	RegistrationID string     `json:"registration_id" gorm:"type:uuid;not null;uniqueIndex"`
	Status         SyncStatus `json:"status" gorm:"type:varchar(16);not null;index:idx_registration_syncs_due,priority:1"`
	Attempts       int        `json:"attempts" gorm:"not null;default:0"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty" gorm:"index:idx_registration_syncs_due,priority:2"`
	LastError      *string    `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt      time.Time  `json:"created_at" gorm:"not null;autoCreateTime:false;<-:create"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"not null;autoUpdateTime:false"`
}

func NewRegistrationSync(id, registrationID string, now time.Time) *RegistrationSync {
	return &RegistrationSync{
		ID:             id,
		RegistrationID: registrationID,
		Status:         SyncStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// SyncBackoff is the delay before the next attempt once n failures have been
// recorded: 5 * 2^n minutes.
func SyncBackoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return syncBackoffBase * time.Duration(1<<uint(n))
}

// IsDue reports whether the dispatcher should attempt the tracker now.
func (s *RegistrationSync) IsDue(now time.Time) bool {
	if s.Status != SyncStatusPending {
		return false
	}
	return s.NextAttemptAt == nil || !s.NextAttemptAt.After(now)
}

// MarkSynced records a successful propagation.
func (s *RegistrationSync) MarkSynced(now time.Time) {
	attemptAt := now
	s.Status = SyncStatusSynced
	s.LastAttemptAt = &attemptAt
	s.NextAttemptAt = nil
	s.LastError = nil
	s.UpdatedAt = now
}

// RecordFailure books a failed attempt and schedules the next one. Reaching
// MaxSyncAttempts ends in FAILED.
func (s *RegistrationSync) RecordFailure(now time.Time, cause error) {
	attemptAt := now
	s.LastAttemptAt = &attemptAt
	s.UpdatedAt = now
	if cause != nil {
		msg := cause.Error()
		s.LastError = &msg
	}

	if s.Attempts >= MaxSyncAttempts {
		s.Status = SyncStatusFailed
		s.NextAttemptAt = nil
		return
	}

	s.Attempts++
	next := now.Add(SyncBackoff(s.Attempts))
	s.NextAttemptAt = &next
	if s.Attempts >= MaxSyncAttempts {
		s.Status = SyncStatusFailed
	}
}

// MarkFailed ends the tracker without another attempt, e.g. when the
// registration it points at can no longer be loaded.
func (s *RegistrationSync) MarkFailed(now time.Time, cause error) {
	s.Status = SyncStatusFailed
	s.NextAttemptAt = nil
	s.UpdatedAt = now
	if cause != nil {
		msg := cause.Error()
		s.LastError = &msg
	}
}

// Rearm queues the tracker for an immediate attempt after its registration
// changed state. UpdatedAt moves so an in-flight attempt carrying the old
// state cannot overwrite it. Failed trackers stay failed; attempts are never
// reset here.
func (s *RegistrationSync) Rearm(now time.Time) {
	if s.Status == SyncStatusFailed {
		return
	}
	s.Status = SyncStatusPending
	s.NextAttemptAt = nil
	s.UpdatedAt = now
}

// Requeue is the operator override for a FAILED tracker.
func (s *RegistrationSync) Requeue(now time.Time) error {
	if s.Status != SyncStatusFailed {
		return ErrInvalidState
	}
	s.Status = SyncStatusPending
	s.Attempts = 0
	s.NextAttemptAt = nil
	s.LastError = nil
	s.UpdatedAt = now
	return nil
}

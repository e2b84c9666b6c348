package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"registration-system/models"
	"registration-system/services"
)

const activeCompetitorIndex = "uq_registrations_active_competitor"

// GormStore persists registrations, trackers and tournaments in Postgres.
// Conditional writes are plain UPDATE ... WHERE version = ? statements run in
// one transaction; no row is locked across the read-modify-write window.
type GormStore struct {
	db *gorm.DB
}

var (
	_ services.RegistrationStore = (*GormStore)(nil)
	_ services.SyncStore         = (*GormStore)(nil)
	_ services.TournamentStore   = (*GormStore)(nil)
)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates the tables and the partial unique index that backs the
// one-active-registration-per-competitor rule.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Tournament{},
		&models.Family{},
		&models.Dependant{},
		&models.Registration{},
		&models.RegistrationSync{},
	); err != nil {
		return err
	}
	return db.Exec(fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS %s ON registrations (tournament_id, competitor_id) WHERE status IN ('%s', '%s')`,
		activeCompetitorIndex, models.RegistrationStatusPendingApproval, models.RegistrationStatusConfirmed,
	)).Error
}

func (s *GormStore) CreateTournament(ctx context.Context, t *models.Tournament) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		if isUniqueViolation(err, "") {
			return fmt.Errorf("tournament %q: %w", t.Slug, models.ErrConflict)
		}
		return err
	}
	return nil
}

func (s *GormStore) GetTournament(ctx context.Context, id string) (*models.Tournament, error) {
	var t models.Tournament
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "tournament", id)
	}
	return &t, nil
}

func (s *GormStore) DeleteTournament(ctx context.Context, id string, now time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Tournament{}).
		Where("id = ?", id).
		UpdateColumn("deleted_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("tournament %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *GormStore) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	var reg models.Registration
	err := s.db.WithContext(ctx).
		Joins("Tournament").
		Preload("Sync").
		First(&reg, "registrations.id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "registration", id)
	}
	if reg.Tournament != nil && reg.Tournament.ID == "" {
		reg.Tournament = nil
	}
	return &reg, nil
}

func (s *GormStore) ListRegistrations(ctx context.Context, tournamentID string) ([]models.Registration, error) {
	var regs []models.Registration
	err := s.db.WithContext(ctx).
		Preload("Sync").
		Where("tournament_id = ?", tournamentID).
		Order("created_at ASC").
		Find(&regs).Error
	return regs, err
}

func (s *GormStore) HasActiveRegistration(ctx context.Context, tournamentID, dependantID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("tournament_id = ? AND status IN ?", tournamentID, models.ActiveRegistrationStatuses).
		Where("competitor_id = ? OR partner_id = ?", dependantID, dependantID).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) CreateRegistration(ctx context.Context, reg *models.Registration, tournamentVersion int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bumpTournamentVersion(tx, reg.TournamentID, tournamentVersion); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(reg).Error; err != nil {
			return err
		}
		if reg.Sync != nil {
			if err := tx.Create(reg.Sync).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err, activeCompetitorIndex) {
		return models.ErrDuplicateRegistration
	}
	return err
}

func (s *GormStore) ApplyTransition(ctx context.Context, tr services.Transition) error {
	reg := tr.Registration
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tr.TournamentVersion != nil {
			if err := bumpTournamentVersion(tx, reg.TournamentID, *tr.TournamentVersion); err != nil {
				return err
			}
		}

		res := tx.Model(&models.Registration{}).
			Where("id = ? AND status = ? AND version = ?", reg.ID, tr.FromStatus, tr.FromVersion).
			Updates(map[string]any{
				"status":              reg.Status,
				"version":             reg.Version,
				"decided_by":          reg.DecidedBy,
				"decided_at":          reg.DecidedAt,
				"cancellation_reason": reg.CancellationReason,
				"cancelled_at":        reg.CancelledAt,
				"updated_at":          reg.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("registration %s changed concurrently: %w", reg.ID, models.ErrConflict)
		}

		if !tr.RearmSyncAt.IsZero() {
			if err := tx.Model(&models.RegistrationSync{}).
				Where("registration_id = ? AND status <> ?", reg.ID, models.SyncStatusFailed).
				Updates(map[string]any{
					"status":          models.SyncStatusPending,
					"next_attempt_at": nil,
					"updated_at":      tr.RearmSyncAt,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) DueSyncs(ctx context.Context, now time.Time, limit int) ([]models.RegistrationSync, error) {
	var trackers []models.RegistrationSync
	q := s.db.WithContext(ctx).
		Where("status = ?", models.SyncStatusPending).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&trackers).Error
	return trackers, err
}

func (s *GormStore) GetSyncByRegistration(ctx context.Context, registrationID string) (*models.RegistrationSync, error) {
	var tracker models.RegistrationSync
	if err := s.db.WithContext(ctx).First(&tracker, "registration_id = ?", registrationID).Error; err != nil {
		return nil, notFound(err, "sync tracker for registration", registrationID)
	}
	return &tracker, nil
}

func (s *GormStore) ListSyncs(ctx context.Context, status models.SyncStatus, limit int) ([]models.RegistrationSync, error) {
	var trackers []models.RegistrationSync
	q := s.db.WithContext(ctx).Where("status = ?", status).Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&trackers).Error
	return trackers, err
}

func (s *GormStore) SaveSync(ctx context.Context, tracker *models.RegistrationSync, loadedAt time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.RegistrationSync{}).
		Where("id = ? AND updated_at = ?", tracker.ID, loadedAt).
		Updates(syncColumns(tracker))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("sync tracker %s changed concurrently: %w", tracker.ID, models.ErrConflict)
	}
	return nil
}

// bumpTournamentVersion is the compare-and-swap on the tournament's version.
func bumpTournamentVersion(tx *gorm.DB, tournamentID string, expected int) error {
	res := tx.Model(&models.Tournament{}).
		Where("id = ? AND version = ?", tournamentID, expected).
		UpdateColumn("version", gorm.Expr("version + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrVersionMismatch
	}
	return nil
}

func syncColumns(tracker *models.RegistrationSync) map[string]any {
	return map[string]any{
		"status":          tracker.Status,
		"attempts":        tracker.Attempts,
		"last_attempt_at": tracker.LastAttemptAt,
		"next_attempt_at": tracker.NextAttemptAt,
		"last_error":      tracker.LastError,
		"updated_at":      tracker.UpdatedAt,
	}
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, models.ErrNotFound)
	}
	return err
}

// isUniqueViolation matches a Postgres unique violation, optionally on a
// specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

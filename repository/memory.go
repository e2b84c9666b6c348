package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"registration-system/models"
	"registration-system/services"
)

// MemoryStore is an in-process implementation of the registration, sync and
// tournament stores. It applies the same conditional-write rules as the
// Postgres store under a single mutex, which makes it suitable for tests and
// for running the service without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	tournaments   map[string]models.Tournament
	registrations map[string]models.Registration
	syncs         map[string]models.RegistrationSync // keyed by registration id
}

var (
	_ services.RegistrationStore = (*MemoryStore)(nil)
	_ services.SyncStore         = (*MemoryStore)(nil)
	_ services.TournamentStore   = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tournaments:   make(map[string]models.Tournament),
		registrations: make(map[string]models.Registration),
		syncs:         make(map[string]models.RegistrationSync),
	}
}

func (s *MemoryStore) CreateTournament(_ context.Context, t *models.Tournament) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tournaments[t.ID]; ok {
		return fmt.Errorf("tournament %s: %w", t.ID, models.ErrConflict)
	}
	for _, existing := range s.tournaments {
		if existing.Slug == t.Slug {
			return fmt.Errorf("tournament slug %q: %w", t.Slug, models.ErrConflict)
		}
	}
	s.tournaments[t.ID] = *t
	return nil
}

func (s *MemoryStore) GetTournament(_ context.Context, id string) (*models.Tournament, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tournaments[id]
	if !ok || t.IsDeleted() {
		return nil, fmt.Errorf("tournament %s: %w", id, models.ErrNotFound)
	}
	return &t, nil
}

func (s *MemoryStore) DeleteTournament(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tournaments[id]
	if !ok || t.IsDeleted() {
		return fmt.Errorf("tournament %s: %w", id, models.ErrNotFound)
	}
	t.DeletedAt = gorm.DeletedAt{Time: now, Valid: true}
	s.tournaments[id] = t
	return nil
}

func (s *MemoryStore) GetRegistration(_ context.Context, id string) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.registrations[id]
	if !ok {
		return nil, fmt.Errorf("registration %s: %w", id, models.ErrNotFound)
	}
	return s.assemble(reg), nil
}

func (s *MemoryStore) ListRegistrations(_ context.Context, tournamentID string) ([]models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Registration, 0)
	for _, reg := range s.registrations {
		if reg.TournamentID == tournamentID {
			out = append(out, *s.assemble(reg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) HasActiveRegistration(_ context.Context, tournamentID, dependantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeFor(tournamentID, dependantID), nil
}

func (s *MemoryStore) CreateRegistration(_ context.Context, reg *models.Registration, tournamentVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tournaments[reg.TournamentID]
	if !ok || t.IsDeleted() {
		return fmt.Errorf("tournament %s: %w", reg.TournamentID, models.ErrNotFound)
	}
	if t.Version != tournamentVersion {
		return models.ErrVersionMismatch
	}
	for _, existing := range s.registrations {
		if existing.TournamentID == reg.TournamentID && existing.CompetitorID == reg.CompetitorID && existing.Status.IsActive() {
			return models.ErrDuplicateRegistration
		}
	}

	t.Version++
	s.tournaments[t.ID] = t

	stored := *reg
	stored.Sync, stored.Tournament = nil, nil
	s.registrations[reg.ID] = stored
	if reg.Sync != nil {
		s.syncs[reg.ID] = *reg.Sync
	}
	return nil
}

func (s *MemoryStore) ApplyTransition(_ context.Context, tr services.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg := tr.Registration
	current, ok := s.registrations[reg.ID]
	if !ok {
		return fmt.Errorf("registration %s: %w", reg.ID, models.ErrNotFound)
	}
	if current.Status != tr.FromStatus || current.Version != tr.FromVersion {
		return fmt.Errorf("registration %s changed concurrently: %w", reg.ID, models.ErrConflict)
	}

	if tr.TournamentVersion != nil {
		t, ok := s.tournaments[reg.TournamentID]
		if !ok || t.IsDeleted() {
			return fmt.Errorf("tournament %s: %w", reg.TournamentID, models.ErrNotFound)
		}
		if t.Version != *tr.TournamentVersion {
			return models.ErrVersionMismatch
		}
		t.Version++
		s.tournaments[t.ID] = t
	}

	stored := *reg
	stored.Sync, stored.Tournament = nil, nil
	s.registrations[reg.ID] = stored
	if !tr.RearmSyncAt.IsZero() {
		if tracker, ok := s.syncs[reg.ID]; ok {
			tracker.Rearm(tr.RearmSyncAt)
			s.syncs[reg.ID] = tracker
		}
	}
	return nil
}

func (s *MemoryStore) DueSyncs(_ context.Context, now time.Time, limit int) ([]models.RegistrationSync, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RegistrationSync, 0)
	for _, tracker := range s.syncs {
		if tracker.IsDue(now) {
			out = append(out, tracker)
		}
	}
	sortSyncs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetSyncByRegistration(_ context.Context, registrationID string) (*models.RegistrationSync, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tracker, ok := s.syncs[registrationID]
	if !ok {
		return nil, fmt.Errorf("sync tracker for registration %s: %w", registrationID, models.ErrNotFound)
	}
	return &tracker, nil
}

func (s *MemoryStore) ListSyncs(_ context.Context, status models.SyncStatus, limit int) ([]models.RegistrationSync, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RegistrationSync, 0)
	for _, tracker := range s.syncs {
		if tracker.Status == status {
			out = append(out, tracker)
		}
	}
	sortSyncs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveSync(_ context.Context, tracker *models.RegistrationSync, loadedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.syncs[tracker.RegistrationID]
	if !ok {
		return fmt.Errorf("sync tracker %s: %w", tracker.ID, models.ErrNotFound)
	}
	if !current.UpdatedAt.Equal(loadedAt) {
		return fmt.Errorf("sync tracker %s changed concurrently: %w", tracker.ID, models.ErrConflict)
	}
	s.syncs[tracker.RegistrationID] = *tracker
	return nil
}

// assemble attaches copies of the tracker and the live tournament. Callers
// must hold the lock.
func (s *MemoryStore) assemble(reg models.Registration) *models.Registration {
	if tracker, ok := s.syncs[reg.ID]; ok {
		reg.Sync = &tracker
	}
	if t, ok := s.tournaments[reg.TournamentID]; ok && !t.IsDeleted() {
		reg.Tournament = &t
	}
	return &reg
}

func (s *MemoryStore) activeFor(tournamentID, dependantID string) bool {
	for _, reg := range s.registrations {
		if reg.TournamentID == tournamentID && reg.Status.IsActive() && reg.Involves(dependantID) {
			return true
		}
	}
	return false
}

func sortSyncs(trackers []models.RegistrationSync) {
	sort.Slice(trackers, func(i, j int) bool {
		if trackers[i].CreatedAt.Equal(trackers[j].CreatedAt) {
			return trackers[i].ID < trackers[j].ID
		}
		return trackers[i].CreatedAt.Before(trackers[j].CreatedAt)
	})
}

// MemoryDirectory is an in-process FamilyDirectory.
type MemoryDirectory struct {
	mu         sync.RWMutex
	families   map[string]models.Family
	dependants map[string]models.Dependant
}

var _ services.FamilyDirectory = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		families:   make(map[string]models.Family),
		dependants: make(map[string]models.Dependant),
	}
}

func (d *MemoryDirectory) AddFamily(f models.Family) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.families[f.ID] = f
}

func (d *MemoryDirectory) AddDependant(dep models.Dependant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dependants[dep.ID] = dep
}

func (d *MemoryDirectory) GetDependant(_ context.Context, id string) (*models.Dependant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dep, ok := d.dependants[id]
	if !ok {
		return nil, fmt.Errorf("dependant %s: %w", id, models.ErrNotFound)
	}
	return &dep, nil
}

func (d *MemoryDirectory) GetFamilyHolder(_ context.Context, familyID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.families[familyID]
	if !ok {
		return "", fmt.Errorf("family %s: %w", familyID, models.ErrNotFound)
	}
	return f.HolderID, nil
}

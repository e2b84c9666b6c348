package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"registration-system/models"
	"registration-system/repository"
	"registration-system/services"
)

var suiteStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type RegistrationServiceSuite struct {
	suite.Suite
	ctx        context.Context
	clock      *clockwork.FakeClock
	store      *repository.MemoryStore
	directory  *repository.MemoryDirectory
	service    *services.RegistrationService
	tournament *models.Tournament
}

func TestRegistrationServiceSuite(t *testing.T) {
	suite.Run(t, new(RegistrationServiceSuite))
}

func (s *RegistrationServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clockwork.NewFakeClockAt(suiteStart)
	s.store = repository.NewMemoryStore()
	s.directory = repository.NewMemoryDirectory()
	s.service = services.NewRegistrationService(s.store, s.directory, services.WithClock(s.clock))

	// family-1 (holder-1): dep-a, dep-c; family-2 (holder-2): dep-b; family-3 (holder-3): dep-d
	s.addFamily("family-1", "holder-1", "dep-a", "dep-c")
	s.addFamily("family-2", "holder-2", "dep-b")
	s.addFamily("family-3", "holder-3", "dep-d")

	s.tournament = &models.Tournament{
		ID:                    "tour-1",
		Name:                  "Spring Open",
		Slug:                  "spring-open",
		RegistrationStartDate: suiteStart.Add(-time.Hour),
		RegistrationEndDate:   suiteStart.Add(time.Hour),
	}
	s.Require().NoError(s.store.CreateTournament(s.ctx, s.tournament))
}

func (s *RegistrationServiceSuite) addFamily(familyID, holderID string, dependants ...string) {
	s.directory.AddFamily(models.Family{ID: familyID, HolderID: holderID})
	for _, id := range dependants {
		s.directory.AddDependant(models.Dependant{ID: id, FamilyID: familyID, FirstName: id, LastName: "Test"})
	}
}

func (s *RegistrationServiceSuite) tournamentVersion() int {
	t, err := s.store.GetTournament(s.ctx, s.tournament.ID)
	s.Require().NoError(err)
	return t.Version
}

func (s *RegistrationServiceSuite) requestDuo() *models.Registration {
	reg, err := s.service.RequestDuo(s.ctx, "holder-1", s.tournament.ID, "dep-a", "dep-b")
	s.Require().NoError(err)
	return reg
}

func (s *RegistrationServiceSuite) TestRequestIndividual() {
	reg, err := s.service.RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-a")
	s.Require().NoError(err)

	s.Equal(models.RegistrationStatusConfirmed, reg.Status)
	s.Equal(models.RegistrationTypeIndividual, reg.Type)
	s.Equal(1, reg.Version)
	s.Nil(reg.PartnerID)
	s.Equal(suiteStart, reg.CreatedAt)

	stored, err := s.service.Get(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.Sync)
	s.Equal(models.SyncStatusPending, stored.Sync.Status)
	s.Zero(stored.Sync.Attempts)
	s.Equal(1, s.tournamentVersion())
}

func (s *RegistrationServiceSuite) TestRequestIndividual_Forbidden() {
	_, err := s.service.RequestIndividual(s.ctx, "holder-2", s.tournament.ID, "dep-a")
	s.ErrorIs(err, models.ErrForbidden)
	s.Zero(s.tournamentVersion())
}

func (s *RegistrationServiceSuite) TestRequestIndividual_Duplicate() {
	_, err := s.service.RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-a")
	s.Require().NoError(err)

	_, err = s.service.RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-a")
	s.ErrorIs(err, models.ErrDuplicateRegistration)
	s.ErrorIs(err, models.ErrConflict)
	s.Equal(1, s.tournamentVersion())
}

func (s *RegistrationServiceSuite) TestRequestIndividual_Window() {
	at := func(now time.Time) *services.RegistrationService {
		return services.NewRegistrationService(s.store, s.directory, services.WithClock(clockwork.NewFakeClockAt(now)))
	}
	start, end := s.tournament.RegistrationStartDate, s.tournament.RegistrationEndDate

	_, err := at(start.Add(-time.Nanosecond)).RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-a")
	s.ErrorIs(err, models.ErrRegistrationNotOpenYet)
	s.ErrorIs(err, models.ErrRegistrationWindowClosed)

	_, err = at(end).RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-a")
	s.ErrorIs(err, models.ErrRegistrationClosed)
	s.ErrorIs(err, models.ErrRegistrationWindowClosed)

	_, err = at(start).RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-a")
	s.NoError(err)

	_, err = at(end.Add(-time.Nanosecond)).RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-c")
	s.NoError(err)
}

func (s *RegistrationServiceSuite) TestRequestIndividual_UnknownOrDeletedTournament() {
	_, err := s.service.RequestIndividual(s.ctx, "holder-1", "missing", "dep-a")
	s.ErrorIs(err, models.ErrNotFound)

	s.Require().NoError(s.store.DeleteTournament(s.ctx, s.tournament.ID, suiteStart))
	_, err = s.service.RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-a")
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *RegistrationServiceSuite) TestRequestDuo_InvalidPartner() {
	_, err := s.service.RequestDuo(s.ctx, "holder-1", s.tournament.ID, "dep-a", "dep-a")
	s.ErrorIs(err, models.ErrInvalidInput)

	_, err = s.service.RequestDuo(s.ctx, "holder-1", s.tournament.ID, "dep-a", "")
	s.ErrorIs(err, models.ErrInvalidInput)

	_, err = s.service.RequestDuo(s.ctx, "holder-1", s.tournament.ID, "dep-a", "nobody")
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *RegistrationServiceSuite) TestRequestDuo_PartnerAlreadyRegistered() {
	_, err := s.service.RequestIndividual(s.ctx, "holder-2", s.tournament.ID, "dep-b")
	s.Require().NoError(err)

	_, err = s.service.RequestDuo(s.ctx, "holder-1", s.tournament.ID, "dep-a", "dep-b")
	s.ErrorIs(err, models.ErrDuplicateRegistration)

	// a dependant named as partner of a pending duo is not free either
	_, err = s.service.RequestDuo(s.ctx, "holder-3", s.tournament.ID, "dep-d", "dep-c")
	s.Require().NoError(err)
	_, err = s.service.RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-c")
	s.ErrorIs(err, models.ErrDuplicateRegistration)
}

func (s *RegistrationServiceSuite) TestDuoAcceptFlow() {
	reg := s.requestDuo()
	s.Equal(models.RegistrationStatusPendingApproval, reg.Status)
	s.Equal(1, s.tournamentVersion())

	err := s.service.AcceptDuo(s.ctx, reg.ID, "holder-1")
	s.ErrorIs(err, models.ErrForbidden)

	s.clock.Advance(time.Minute)
	s.Require().NoError(s.service.AcceptDuo(s.ctx, reg.ID, "holder-2"))

	stored, err := s.service.Get(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(models.RegistrationStatusConfirmed, stored.Status)
	s.Equal(2, stored.Version)
	s.Equal(suiteStart.Add(time.Minute), stored.UpdatedAt)
	s.Require().NotNil(stored.DecidedBy)
	s.Equal("holder-2", *stored.DecidedBy)
	s.Equal(2, s.tournamentVersion())

	s.ErrorIs(s.service.RejectDuo(s.ctx, reg.ID, "holder-2"), models.ErrInvalidState)
	s.ErrorIs(s.service.AcceptDuo(s.ctx, reg.ID, "holder-2"), models.ErrInvalidState)
}

func (s *RegistrationServiceSuite) TestDuoRejectFlow() {
	reg := s.requestDuo()

	s.Require().NoError(s.service.RejectDuo(s.ctx, reg.ID, "holder-2"))

	stored, err := s.service.Get(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(models.RegistrationStatusRejected, stored.Status)
	s.Equal(2, stored.Version)
	s.Equal(2, s.tournamentVersion())

	s.ErrorIs(s.service.AcceptDuo(s.ctx, reg.ID, "holder-2"), models.ErrInvalidState)
	s.ErrorIs(s.service.Cancel(s.ctx, reg.ID, "holder-1", ""), models.ErrInvalidState)

	// the slot is free again for both dependants
	_, err = s.service.RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-a")
	s.NoError(err)
	_, err = s.service.RequestIndividual(s.ctx, "holder-2", s.tournament.ID, "dep-b")
	s.NoError(err)
}

func (s *RegistrationServiceSuite) TestAcceptIndividual_InvalidState() {
	reg, err := s.service.RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-a")
	s.Require().NoError(err)

	s.ErrorIs(s.service.AcceptDuo(s.ctx, reg.ID, "holder-1"), models.ErrInvalidState)
	s.ErrorIs(s.service.AcceptDuo(s.ctx, "missing", "holder-1"), models.ErrNotFound)
}

func (s *RegistrationServiceSuite) TestCancel() {
	reg := s.requestDuo()
	s.clock.Advance(time.Minute)

	s.ErrorIs(s.service.Cancel(s.ctx, reg.ID, "holder-3", "nope"), models.ErrForbidden)

	// the partner's holder may cancel too
	s.Require().NoError(s.service.Cancel(s.ctx, reg.ID, "holder-2", "injury"))

	stored, err := s.service.Get(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(models.RegistrationStatusCancelled, stored.Status)
	s.Equal(1, stored.Version)
	s.Equal(suiteStart.Add(time.Minute), stored.UpdatedAt)
	s.Require().NotNil(stored.CancellationReason)
	s.Equal("injury", *stored.CancellationReason)
	s.Equal(1, s.tournamentVersion())

	s.ErrorIs(s.service.Cancel(s.ctx, reg.ID, "holder-1", ""), models.ErrInvalidState)

	// cancelled registrations do not hold the slot
	_, err = s.service.RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-a")
	s.NoError(err)
}

func (s *RegistrationServiceSuite) TestTransitionsRearmSyncedTracker() {
	reg := s.requestDuo()

	tracker, err := s.store.GetSyncByRegistration(s.ctx, reg.ID)
	s.Require().NoError(err)
	loaded := tracker.UpdatedAt
	tracker.MarkSynced(suiteStart)
	tracker.UpdatedAt = suiteStart.Add(time.Second)
	s.Require().NoError(s.store.SaveSync(s.ctx, tracker, loaded))

	s.clock.Advance(time.Minute)
	s.Require().NoError(s.service.AcceptDuo(s.ctx, reg.ID, "holder-2"))

	tracker, err = s.store.GetSyncByRegistration(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(models.SyncStatusPending, tracker.Status)
	s.Nil(tracker.NextAttemptAt)
	s.Equal(suiteStart.Add(time.Minute), tracker.UpdatedAt)
}

func (s *RegistrationServiceSuite) TestDeletedTournamentBlocksTransitions() {
	reg := s.requestDuo()
	s.Require().NoError(s.store.DeleteTournament(s.ctx, s.tournament.ID, suiteStart))

	s.ErrorIs(s.service.AcceptDuo(s.ctx, reg.ID, "holder-2"), models.ErrNotFound)
	s.ErrorIs(s.service.Cancel(s.ctx, reg.ID, "holder-1", ""), models.ErrNotFound)
	_, err := s.service.ListForTournament(s.ctx, s.tournament.ID)
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *RegistrationServiceSuite) TestListForTournament() {
	first, err := s.service.RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-a")
	s.Require().NoError(err)
	s.clock.Advance(time.Second)
	second := s.requestDuoFor("holder-3", "dep-d", "dep-b")
	s.Require().NoError(s.service.Cancel(s.ctx, second.ID, "holder-3", ""))

	regs, err := s.service.ListForTournament(s.ctx, s.tournament.ID)
	s.Require().NoError(err)
	s.Require().Len(regs, 2)
	s.Equal(first.ID, regs[0].ID)
	s.Equal(models.RegistrationStatusCancelled, regs[1].Status)
}

func (s *RegistrationServiceSuite) requestDuoFor(holder, competitor, partner string) *models.Registration {
	reg, err := s.service.RequestDuo(s.ctx, holder, s.tournament.ID, competitor, partner)
	s.Require().NoError(err)
	return reg
}

func (s *RegistrationServiceSuite) TestConcurrentRequestsForSameCompetitor() {
	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.RequestIndividual(s.ctx, "holder-1", s.tournament.ID, "dep-a")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, models.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, successes)
	s.Equal(callers-1, conflicts)

	regs, err := s.service.ListForTournament(s.ctx, s.tournament.ID)
	s.Require().NoError(err)
	s.Len(regs, 1)
	s.Equal(1, s.tournamentVersion())
}

func (s *RegistrationServiceSuite) TestConcurrentAcceptAndReject() {
	reg := s.requestDuo()

	errs := make(chan error, 2)
	go func() { errs <- s.service.AcceptDuo(s.ctx, reg.ID, "holder-2") }()
	go func() { errs <- s.service.RejectDuo(s.ctx, reg.ID, "holder-2") }()

	var successes int
	for i := 0; i < 2; i++ {
		err := <-errs
		if err == nil {
			successes++
			continue
		}
		s.True(errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrInvalidState), "unexpected error: %v", err)
	}
	s.Equal(1, successes)

	stored, err := s.service.Get(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(2, stored.Version)
	s.Equal(2, s.tournamentVersion())
}

func (s *RegistrationServiceSuite) TestViewerScopedReads() {
	duo := s.requestDuo()
	solo, err := s.service.RequestIndividual(s.ctx, "holder-3", s.tournament.ID, "dep-d")
	s.Require().NoError(err)

	_, err = s.service.View(s.ctx, services.Viewer{UserID: "holder-2"}, duo.ID)
	s.NoError(err, "partner holder sees the duo")
	_, err = s.service.View(s.ctx, services.Viewer{UserID: "holder-2"}, solo.ID)
	s.ErrorIs(err, models.ErrForbidden)
	_, err = s.service.View(s.ctx, services.Viewer{UserID: "admin-1", Admin: true}, solo.ID)
	s.NoError(err)
	_, err = s.service.View(s.ctx, services.Viewer{UserID: "holder-2"}, "missing")
	s.ErrorIs(err, models.ErrNotFound)

	visible, err := s.service.ListVisible(s.ctx, services.Viewer{UserID: "holder-1"}, s.tournament.ID)
	s.Require().NoError(err)
	s.Require().Len(visible, 1)
	s.Equal(duo.ID, visible[0].ID)

	visible, err = s.service.ListVisible(s.ctx, services.Viewer{UserID: "stranger"}, s.tournament.ID)
	s.Require().NoError(err)
	s.Empty(visible)

	visible, err = s.service.ListVisible(s.ctx, services.Viewer{UserID: "admin-1", Admin: true}, s.tournament.ID)
	s.Require().NoError(err)
	s.Len(visible, 2)
}

func (s *RegistrationServiceSuite) TestLogsTaggedEntries() {
	core, logs := observer.New(zap.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	reg := s.requestDuo()
	s.Require().NoError(s.service.AcceptDuo(s.ctx, reg.ID, "holder-2"))
	s.Require().NoError(s.service.Cancel(s.ctx, reg.ID, "holder-1", ""))

	var messages []string
	for _, entry := range logs.All() {
		messages = append(messages, entry.Message)
	}
	s.Equal([]string{
		"📝 [REGISTRATION] created",
		"🤝 [REGISTRATION] duo decided",
		"🗑️ [REGISTRATION] cancelled",
	}, messages)

	created := logs.FilterMessage("📝 [REGISTRATION] created").All()
	s.Require().Len(created, 1)
	s.Equal(reg.ID, created[0].ContextMap()["registration_id"])
}

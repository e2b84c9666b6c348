//go:build integration

package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"registration-system/models"
	"registration-system/repository"
	"registration-system/services"
)

type GormStoreSuite struct {
	suite.Suite
	ctx       context.Context
	db        *gorm.DB
	store     *repository.GormStore
	directory *repository.GormDirectory
	pgC       *postgres.PostgresContainer
}

func TestGormStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(GormStoreSuite))
}

func (s *GormStoreSuite) SetupSuite() {
	s.ctx = context.Background()

	pgC, err := postgres.Run(s.ctx, "postgres:16-alpine",
		postgres.WithDatabase("registrations"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.pgC = pgC

	dsn, err := pgC.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.db, err = gorm.Open(gormpg.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	s.Require().NoError(err)
	s.Require().NoError(repository.AutoMigrate(s.db))

	s.store = repository.NewGormStore(s.db)
	s.directory = repository.NewGormDirectory(s.db)
}

func (s *GormStoreSuite) TearDownSuite() {
	if s.pgC != nil {
		tc.CleanupContainer(s.T(), s.pgC)
	}
}

func (s *GormStoreSuite) SetupTest() {
	s.Require().NoError(s.db.Exec("TRUNCATE registration_syncs, registrations, tournaments, dependants, families").Error)
}

type fixture struct {
	tournament *models.Tournament
	holderA    string
	holderB    string
	depA       string
	depB       string
}

func (s *GormStoreSuite) seed(now time.Time) fixture {
	f := fixture{
		tournament: &models.Tournament{
			ID:                    uuid.NewString(),
			Name:                  "Autumn Cup",
			Slug:                  "autumn-cup",
			RegistrationStartDate: now.Add(-time.Hour),
			RegistrationEndDate:   now.Add(time.Hour),
		},
		holderA: uuid.NewString(),
		holderB: uuid.NewString(),
		depA:    uuid.NewString(),
		depB:    uuid.NewString(),
	}
	s.Require().NoError(s.store.CreateTournament(s.ctx, f.tournament))

	famA, famB := uuid.NewString(), uuid.NewString()
	s.Require().NoError(s.db.Create(&models.Family{ID: famA, HolderID: f.holderA, Name: "A"}).Error)
	s.Require().NoError(s.db.Create(&models.Family{ID: famB, HolderID: f.holderB, Name: "B"}).Error)
	s.Require().NoError(s.db.Create(&models.Dependant{ID: f.depA, FamilyID: famA, FirstName: "Ada", LastName: "A"}).Error)
	s.Require().NoError(s.db.Create(&models.Dependant{ID: f.depB, FamilyID: famB, FirstName: "Bo", LastName: "B"}).Error)
	return f
}

func (s *GormStoreSuite) service(now time.Time) *services.RegistrationService {
	return services.NewRegistrationService(s.store, s.directory, services.WithClock(clockwork.NewFakeClockAt(now)))
}

func (s *GormStoreSuite) TestDuoLifecycle() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	f := s.seed(now)
	svc := s.service(now)

	reg, err := svc.RequestDuo(s.ctx, f.holderA, f.tournament.ID, f.depA, f.depB)
	s.Require().NoError(err)

	s.ErrorIs(svc.AcceptDuo(s.ctx, reg.ID, f.holderA), models.ErrForbidden)
	s.Require().NoError(svc.AcceptDuo(s.ctx, reg.ID, f.holderB))

	loaded, err := s.store.GetRegistration(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(models.RegistrationStatusConfirmed, loaded.Status)
	s.Equal(2, loaded.Version)
	s.Require().NotNil(loaded.Sync)
	s.Equal(models.SyncStatusPending, loaded.Sync.Status)
	s.Require().NotNil(loaded.Tournament)
	s.Equal(2, loaded.Tournament.Version)

	s.Require().NoError(svc.Cancel(s.ctx, reg.ID, f.holderB, "moved away"))
	s.ErrorIs(svc.Cancel(s.ctx, reg.ID, f.holderA, ""), models.ErrInvalidState)
}

func (s *GormStoreSuite) TestPartialUniqueIndex() {
	now := time.Now().UTC()
	f := s.seed(now)

	first := models.NewIndividualRegistration(uuid.NewString(), uuid.NewString(), f.tournament.ID, f.depA, f.holderA, now)
	s.Require().NoError(s.store.CreateRegistration(s.ctx, first, 0))

	// bypass the version check to hit the index directly
	dup := models.NewIndividualRegistration(uuid.NewString(), uuid.NewString(), f.tournament.ID, f.depA, f.holderA, now)
	s.ErrorIs(s.store.CreateRegistration(s.ctx, dup, 1), models.ErrDuplicateRegistration)

	stale := models.NewIndividualRegistration(uuid.NewString(), uuid.NewString(), f.tournament.ID, f.depB, f.holderB, now)
	s.ErrorIs(s.store.CreateRegistration(s.ctx, stale, 0), models.ErrVersionMismatch)
}

func (s *GormStoreSuite) TestConcurrentIndividualRequests() {
	now := time.Now().UTC()
	f := s.seed(now)
	svc := s.service(now)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RequestIndividual(s.ctx, f.holderA, f.tournament.ID, f.depA)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			s.True(errors.Is(err, models.ErrConflict), "unexpected error: %v", err)
		}()
	}
	wg.Wait()
	s.Equal(1, successes)

	regs, err := s.store.ListRegistrations(s.ctx, f.tournament.ID)
	s.Require().NoError(err)
	s.Len(regs, 1)
}

func (s *GormStoreSuite) TestSyncTrackerPersistence() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	f := s.seed(now)

	reg := models.NewIndividualRegistration(uuid.NewString(), uuid.NewString(), f.tournament.ID, f.depA, f.holderA, now)
	s.Require().NoError(s.store.CreateRegistration(s.ctx, reg, 0))

	due, err := s.store.DueSyncs(s.ctx, now, 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)

	tracker := due[0]
	loadedAt := tracker.UpdatedAt
	tracker.RecordFailure(now.Add(time.Second), errors.New("boom"))
	s.Require().NoError(s.store.SaveSync(s.ctx, &tracker, loadedAt))
	s.ErrorIs(s.store.SaveSync(s.ctx, &tracker, loadedAt), models.ErrConflict)

	due, err = s.store.DueSyncs(s.ctx, now.Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Empty(due)

	due, err = s.store.DueSyncs(s.ctx, now.Add(11*time.Minute), 10)
	s.Require().NoError(err)
	s.Len(due, 1)
}

func (s *GormStoreSuite) TestTransitionLeavesFailedTrackerAlone() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	f := s.seed(now)

	reg := models.NewDuoRegistration(uuid.NewString(), uuid.NewString(), f.tournament.ID, f.depA, f.depB, f.holderA, now)
	s.Require().NoError(s.store.CreateRegistration(s.ctx, reg, 0))
	loaded, err := s.store.GetRegistration(s.ctx, reg.ID)
	s.Require().NoError(err)

	tracker, err := s.store.GetSyncByRegistration(s.ctx, reg.ID)
	s.Require().NoError(err)
	loadedAt := tracker.UpdatedAt
	for i := 0; i < models.MaxSyncAttempts; i++ {
		tracker.RecordFailure(now.Add(time.Duration(i+1)*time.Second), errors.New("boom"))
	}
	s.Require().Equal(models.SyncStatusFailed, tracker.Status)
	s.Require().NoError(s.store.SaveSync(s.ctx, tracker, loadedAt))

	decidedAt := now.Add(time.Minute)
	tv := loaded.Tournament.Version
	s.Require().NoError(loaded.Accept(f.holderB, decidedAt))
	s.Require().NoError(s.store.ApplyTransition(s.ctx, services.Transition{
		Registration:      loaded,
		FromStatus:        models.RegistrationStatusPendingApproval,
		FromVersion:       1,
		TournamentVersion: &tv,
		RearmSyncAt:       decidedAt,
	}))

	stored, err := s.store.GetSyncByRegistration(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Equal(models.SyncStatusFailed, stored.Status)
	s.Equal(models.MaxSyncAttempts, stored.Attempts)
	s.Require().NotNil(stored.LastError)
	s.Equal("boom", *stored.LastError)
}

func (s *GormStoreSuite) TestSoftDeletedTournament() {
	now := time.Now().UTC()
	f := s.seed(now)
	svc := s.service(now)

	reg, err := svc.RequestDuo(s.ctx, f.holderA, f.tournament.ID, f.depA, f.depB)
	s.Require().NoError(err)
	s.Require().NoError(s.store.DeleteTournament(s.ctx, f.tournament.ID, now))

	_, err = s.store.GetTournament(s.ctx, f.tournament.ID)
	s.ErrorIs(err, models.ErrNotFound)
	s.ErrorIs(svc.AcceptDuo(s.ctx, reg.ID, f.holderB), models.ErrNotFound)
}

func (s *GormStoreSuite) TestCachedDirectory() {
	redisC, err := tcredis.Run(s.ctx, "redis:7-alpine")
	s.Require().NoError(err)
	defer tc.CleanupContainer(s.T(), redisC)

	uri, err := redisC.ConnectionString(s.ctx)
	s.Require().NoError(err)
	opts, err := redis.ParseURL(uri)
	s.Require().NoError(err)
	client := redis.NewClient(opts)
	defer client.Close()

	f := s.seed(time.Now().UTC())
	cached := repository.NewCachedDirectory(s.directory, client, repository.WithTTL(time.Minute))

	dep, err := cached.GetDependant(s.ctx, f.depA)
	s.Require().NoError(err)
	holder, err := cached.GetFamilyHolder(s.ctx, dep.FamilyID)
	s.Require().NoError(err)
	s.Equal(f.holderA, holder)

	// served from redis once the rows are gone
	s.Require().NoError(s.db.Exec("TRUNCATE dependants, families").Error)
	dep, err = cached.GetDependant(s.ctx, f.depA)
	s.Require().NoError(err)
	holder, err = cached.GetFamilyHolder(s.ctx, dep.FamilyID)
	s.Require().NoError(err)
	s.Equal(f.holderA, holder)

	s.Require().NoError(cached.Invalidate(s.ctx, dep.FamilyID, f.depA))
	_, err = cached.GetDependant(s.ctx, f.depA)
	s.ErrorIs(err, models.ErrNotFound)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"registration-system/metrics"
	"registration-system/models"
)

var tracer = otel.Tracer("registration-system/services")

// RegistrationService coordinates tournament registrations: creation,
// duo approval and cancellation. Optimistic conflicts are reported to the
// caller and never retried here.
type RegistrationService struct {
	store     RegistrationStore
	directory FamilyDirectory
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	newID     func() string
}

// RegistrationOption configures a RegistrationService.
type RegistrationOption func(*RegistrationService)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) RegistrationOption {
	return func(s *RegistrationService) {
		s.clock = clock
	}
}

// WithMetrics records registration counters on m.
func WithMetrics(m *metrics.Metrics) RegistrationOption {
	return func(s *RegistrationService) {
		s.metrics = m
	}
}

// WithIDGenerator overrides uuid generation for registrations and trackers.
func WithIDGenerator(fn func() string) RegistrationOption {
	return func(s *RegistrationService) {
		s.newID = fn
	}
}

func NewRegistrationService(store RegistrationStore, directory FamilyDirectory, opts ...RegistrationOption) *RegistrationService {
	s := &RegistrationService{
		store:     store,
		directory: directory,
		clock:     clockwork.NewRealClock(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestIndividual registers a competitor alone; the registration is
// confirmed immediately.
func (s *RegistrationService) RequestIndividual(ctx context.Context, actingUserID, tournamentID, competitorID string) (reg *models.Registration, err error) {
	ctx, span := s.startSpan(ctx, "RequestIndividual",
		attribute.String("tournament.id", tournamentID),
		attribute.String("competitor.id", competitorID))
	defer func() { endSpan(span, err) }()

	tournament, err := s.openTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeHolderOf(ctx, actingUserID, competitorID); err != nil {
		return nil, err
	}
	if err := s.ensureFree(ctx, tournamentID, competitorID); err != nil {
		return nil, err
	}

	reg = models.NewIndividualRegistration(s.newID(), s.newID(), tournamentID, competitorID, actingUserID, s.clock.Now())
	if err := s.create(ctx, reg, tournament); err != nil {
		return nil, err
	}
	return reg, nil
}

// RequestDuo registers a competitor with a partner. The registration waits
// in PENDING_APPROVAL until the partner's holder accepts or rejects it.
func (s *RegistrationService) RequestDuo(ctx context.Context, actingUserID, tournamentID, competitorID, partnerID string) (reg *models.Registration, err error) {
	ctx, span := s.startSpan(ctx, "RequestDuo",
		attribute.String("tournament.id", tournamentID),
		attribute.String("competitor.id", competitorID),
		attribute.String("partner.id", partnerID))
	defer func() { endSpan(span, err) }()

	if partnerID == "" || partnerID == competitorID {
		return nil, fmt.Errorf("%w: partner must be a different dependant", models.ErrInvalidInput)
	}

	tournament, err := s.openTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeHolderOf(ctx, actingUserID, competitorID); err != nil {
		return nil, err
	}
	if _, err := s.directory.GetDependant(ctx, partnerID); err != nil {
		return nil, fmt.Errorf("partner %s: %w", partnerID, err)
	}
	if err := s.ensureFree(ctx, tournamentID, competitorID); err != nil {
		return nil, err
	}
	if err := s.ensureFree(ctx, tournamentID, partnerID); err != nil {
		return nil, err
	}

	reg = models.NewDuoRegistration(s.newID(), s.newID(), tournamentID, competitorID, partnerID, actingUserID, s.clock.Now())
	if err := s.create(ctx, reg, tournament); err != nil {
		return nil, err
	}
	return reg, nil
}

// AcceptDuo confirms a pending duo registration on behalf of the partner's
// holder.
func (s *RegistrationService) AcceptDuo(ctx context.Context, registrationID, actingUserID string) (err error) {
	ctx, span := s.startSpan(ctx, "AcceptDuo", attribute.String("registration.id", registrationID))
	defer func() { endSpan(span, err) }()

	return s.decide(ctx, registrationID, actingUserID, (*models.Registration).Accept)
}

// RejectDuo declines a pending duo registration on behalf of the partner's
// holder.
func (s *RegistrationService) RejectDuo(ctx context.Context, registrationID, actingUserID string) (err error) {
	ctx, span := s.startSpan(ctx, "RejectDuo", attribute.String("registration.id", registrationID))
	defer func() { endSpan(span, err) }()

	return s.decide(ctx, registrationID, actingUserID, (*models.Registration).Reject)
}

// Cancel withdraws a pending or confirmed registration. Either holder may
// cancel. Cancelling twice fails with ErrInvalidState.
func (s *RegistrationService) Cancel(ctx context.Context, registrationID, actingUserID, reason string) (err error) {
	ctx, span := s.startSpan(ctx, "Cancel", attribute.String("registration.id", registrationID))
	defer func() { endSpan(span, err) }()

	reg, err := s.loadActive(ctx, registrationID)
	if err != nil {
		return err
	}
	if !reg.Status.IsActive() {
		return models.ErrInvalidState
	}
	if err := s.authorizeEitherHolder(ctx, actingUserID, reg); err != nil {
		return err
	}

	from := reg.Status
	now := s.clock.Now()
	if err := reg.Cancel(reason, now); err != nil {
		return err
	}
	if err := s.store.ApplyTransition(ctx, Transition{
		Registration: reg,
		FromStatus:   from,
		FromVersion:  reg.Version,
		RearmSyncAt:  now,
	}); err != nil {
		s.noteConflict(err)
		return err
	}

	s.metrics.IncTransition(string(reg.Status))
	zap.L().Info("🗑️ [REGISTRATION] cancelled",
		zap.String("registration_id", reg.ID),
		zap.String("acting_user_id", actingUserID),
		zap.String("from", string(from)))
	return nil
}

// Get returns a registration with its sync tracker.
func (s *RegistrationService) Get(ctx context.Context, registrationID string) (*models.Registration, error) {
	return s.store.GetRegistration(ctx, registrationID)
}

// ListForTournament returns every registration of a tournament, terminal
// ones included.
func (s *RegistrationService) ListForTournament(ctx context.Context, tournamentID string) ([]models.Registration, error) {
	if _, err := s.store.GetTournament(ctx, tournamentID); err != nil {
		return nil, err
	}
	return s.store.ListRegistrations(ctx, tournamentID)
}

// Viewer is the user reading registrations. Admins see every registration;
// holders see those involving one of their dependants.
type Viewer struct {
	UserID string
	Admin  bool
}

// View is Get restricted to what the viewer may see.
func (s *RegistrationService) View(ctx context.Context, viewer Viewer, registrationID string) (*models.Registration, error) {
	reg, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if viewer.Admin {
		return reg, nil
	}
	if err := s.authorizeEitherHolder(ctx, viewer.UserID, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// ListVisible is ListForTournament filtered to what the viewer may see.
func (s *RegistrationService) ListVisible(ctx context.Context, viewer Viewer, tournamentID string) ([]models.Registration, error) {
	regs, err := s.ListForTournament(ctx, tournamentID)
	if err != nil || viewer.Admin {
		return regs, err
	}

	holders := make(map[string]string)
	holds := func(dependantID string) (bool, error) {
		holder, ok := holders[dependantID]
		if !ok {
			found, err := s.holderOf(ctx, dependantID)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				return false, err
			}
			holder = found
			holders[dependantID] = holder
		}
		return holder != "" && holder == viewer.UserID, nil
	}

	visible := make([]models.Registration, 0, len(regs))
	for _, reg := range regs {
		ok, err := holds(reg.CompetitorID)
		if err != nil {
			return nil, err
		}
		if !ok && reg.PartnerID != nil {
			if ok, err = holds(*reg.PartnerID); err != nil {
				return nil, err
			}
		}
		if ok {
			visible = append(visible, reg)
		}
	}
	return visible, nil
}

func (s *RegistrationService) decide(ctx context.Context, registrationID, actingUserID string, apply func(*models.Registration, string, time.Time) error) error {
	reg, err := s.loadActive(ctx, registrationID)
	if err != nil {
		return err
	}
	if reg.Status != models.RegistrationStatusPendingApproval {
		return models.ErrInvalidState
	}
	if reg.PartnerID == nil {
		return models.ErrInvalidState
	}
	if err := s.authorizeHolderOf(ctx, actingUserID, *reg.PartnerID); err != nil {
		return err
	}

	from, fromVersion := reg.Status, reg.Version
	tournamentVersion := reg.Tournament.CurrentVersion()
	now := s.clock.Now()
	if err := apply(reg, actingUserID, now); err != nil {
		return err
	}
	if err := s.store.ApplyTransition(ctx, Transition{
		Registration:      reg,
		FromStatus:        from,
		FromVersion:       fromVersion,
		TournamentVersion: &tournamentVersion,
		RearmSyncAt:       now,
	}); err != nil {
		s.noteConflict(err)
		return err
	}

	s.metrics.IncTransition(string(reg.Status))
	zap.L().Info("🤝 [REGISTRATION] duo decided",
		zap.String("registration_id", reg.ID),
		zap.String("acting_user_id", actingUserID),
		zap.String("status", string(reg.Status)),
		zap.Int("tournament_version", tournamentVersion+1))
	return nil
}

func (s *RegistrationService) create(ctx context.Context, reg *models.Registration, tournament *models.Tournament) error {
	if err := s.store.CreateRegistration(ctx, reg, tournament.CurrentVersion()); err != nil {
		s.noteConflict(err)
		return err
	}

	s.metrics.IncRegistrationCreated(string(reg.Type))
	zap.L().Info("📝 [REGISTRATION] created",
		zap.String("registration_id", reg.ID),
		zap.String("tournament_id", reg.TournamentID),
		zap.String("competitor_id", reg.CompetitorID),
		zap.String("type", string(reg.Type)),
		zap.String("status", string(reg.Status)))
	return nil
}

// openTournament loads the tournament and checks its registration window.
func (s *RegistrationService) openTournament(ctx context.Context, tournamentID string) (*models.Tournament, error) {
	tournament, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if err := tournament.CheckWindowOpen(s.clock.Now()); err != nil {
		return nil, err
	}
	return tournament, nil
}

// loadActive loads a registration whose tournament has not been deleted.
func (s *RegistrationService) loadActive(ctx context.Context, registrationID string) (*models.Registration, error) {
	reg, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.Tournament == nil || reg.Tournament.IsDeleted() {
		return nil, fmt.Errorf("tournament of registration %s: %w", registrationID, models.ErrNotFound)
	}
	return reg, nil
}

func (s *RegistrationService) ensureFree(ctx context.Context, tournamentID, dependantID string) error {
	active, err := s.store.HasActiveRegistration(ctx, tournamentID, dependantID)
	if err != nil {
		return err
	}
	if active {
		s.metrics.IncConflict()
		return fmt.Errorf("dependant %s: %w", dependantID, models.ErrDuplicateRegistration)
	}
	return nil
}

func (s *RegistrationService) authorizeHolderOf(ctx context.Context, userID, dependantID string) error {
	holder, err := s.holderOf(ctx, dependantID)
	if err != nil {
		return err
	}
	if holder != userID {
		return fmt.Errorf("user %s does not hold the family of %s: %w", userID, dependantID, models.ErrForbidden)
	}
	return nil
}

func (s *RegistrationService) authorizeEitherHolder(ctx context.Context, userID string, reg *models.Registration) error {
	holder, err := s.holderOf(ctx, reg.CompetitorID)
	if err != nil {
		return err
	}
	if holder == userID {
		return nil
	}
	if reg.PartnerID != nil {
		holder, err = s.holderOf(ctx, *reg.PartnerID)
		if err != nil {
			return err
		}
		if holder == userID {
			return nil
		}
	}
	return fmt.Errorf("user %s holds neither family of registration %s: %w", userID, reg.ID, models.ErrForbidden)
}

func (s *RegistrationService) holderOf(ctx context.Context, dependantID string) (string, error) {
	dependant, err := s.directory.GetDependant(ctx, dependantID)
	if err != nil {
		return "", fmt.Errorf("dependant %s: %w", dependantID, err)
	}
	return s.directory.GetFamilyHolder(ctx, dependant.FamilyID)
}

func (s *RegistrationService) noteConflict(err error) {
	if errors.Is(err, models.ErrConflict) {
		s.metrics.IncConflict()
	}
}

func (s *RegistrationService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "RegistrationService."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

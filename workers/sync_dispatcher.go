package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"registration-system/metrics"
	"registration-system/models"
	"registration-system/services"
)

const (
	DefaultSyncInterval    = time.Minute
	DefaultSyncBatchSize   = 50
	DefaultSyncConcurrency = 4
	DefaultPushTimeout     = 10 * time.Second
)

const (
	outcomeSynced  = "synced"
	outcomeRetry   = "retry"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// SyncDispatcher pushes due registration trackers to the downstream consumer
// on a fixed schedule. All retry state lives on the trackers themselves.
type SyncDispatcher struct {
	store       services.SyncStore
	publisher   Publisher
	deadLetter  DeadLetterSink
	clock       clockwork.Clock
	metrics     *metrics.Metrics
	interval    time.Duration
	batchSize   int
	concurrency int
	pushTimeout time.Duration

	mu        sync.Mutex
	scheduler gocron.Scheduler
}

// DispatcherOption configures a SyncDispatcher.
type DispatcherOption func(*SyncDispatcher)

func WithDispatcherClock(clock clockwork.Clock) DispatcherOption {
	return func(d *SyncDispatcher) { d.clock = clock }
}

func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *SyncDispatcher) { d.metrics = m }
}

// WithDeadLetter archives events of trackers that end up FAILED.
func WithDeadLetter(sink DeadLetterSink) DispatcherOption {
	return func(d *SyncDispatcher) { d.deadLetter = sink }
}

func WithInterval(interval time.Duration) DispatcherOption {
	return func(d *SyncDispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

func WithBatchSize(n int) DispatcherOption {
	return func(d *SyncDispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

func WithConcurrency(n int) DispatcherOption {
	return func(d *SyncDispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func WithPushTimeout(timeout time.Duration) DispatcherOption {
	return func(d *SyncDispatcher) {
		if timeout > 0 {
			d.pushTimeout = timeout
		}
	}
}

func NewSyncDispatcher(store services.SyncStore, publisher Publisher, opts ...DispatcherOption) *SyncDispatcher {
	d := &SyncDispatcher{
		store:       store,
		publisher:   publisher,
		clock:       clockwork.NewRealClock(),
		interval:    DefaultSyncInterval,
		batchSize:   DefaultSyncBatchSize,
		concurrency: DefaultSyncConcurrency,
		pushTimeout: DefaultPushTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start schedules Tick every interval, starting immediately. A tick that
// overruns the interval delays the next one instead of overlapping it.
func (d *SyncDispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scheduler != nil {
		return errors.New("sync dispatcher already started")
	}

	sched, err := gocron.NewScheduler(gocron.WithClock(d.clock))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(d.interval),
		gocron.NewTask(func() {
			if _, err := d.Tick(ctx); err != nil {
				zap.L().Error("❌ [SYNC] tick failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithName("registration-sync"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule sync job: %w", err)
	}
	sched.Start()
	d.scheduler = sched

	zap.L().Info("🚀 [SYNC] dispatcher started",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
		zap.Int("concurrency", d.concurrency))
	return nil
}

// Stop waits for a running tick to finish.
func (d *SyncDispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scheduler == nil {
		return nil
	}
	err := d.scheduler.Shutdown()
	d.scheduler = nil
	zap.L().Info("🛑 [SYNC] dispatcher stopped")
	return err
}

// TickResult summarises one dispatcher pass.
type TickResult struct {
	Due     int
	Synced  int
	Retried int
	Failed  int
	Skipped int
}

func (r *TickResult) add(outcome string) {
	switch outcome {
	case outcomeSynced:
		r.Synced++
	case outcomeRetry:
		r.Retried++
	case outcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
}

// Tick processes one batch of due trackers.
func (d *SyncDispatcher) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult

	due, err := d.store.DueSyncs(ctx, d.clock.Now(), d.batchSize)
	if err != nil {
		return result, fmt.Errorf("load due trackers: %w", err)
	}
	result.Due = len(due)
	d.metrics.SetSyncBatchSize(len(due))
	if len(due) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i := range due {
		tracker := due[i]
		g.Go(func() error {
			outcome := d.process(gctx, &tracker)
			mu.Lock()
			result.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("🔁 [SYNC] tick done",
		zap.Int("due", result.Due),
		zap.Int("synced", result.Synced),
		zap.Int("retried", result.Retried),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (d *SyncDispatcher) process(ctx context.Context, tracker *models.RegistrationSync) string {
	loadedAt := tracker.UpdatedAt
	log := zap.L().With(
		zap.String("registration_id", tracker.RegistrationID),
		zap.Int("attempts", tracker.Attempts))

	// attempts already exhausted: no further push
	if tracker.Attempts >= models.MaxSyncAttempts {
		tracker.RecordFailure(d.clock.Now(), models.ErrSyncAttemptFailed)
		return d.finish(ctx, tracker, loadedAt, nil, 0, log)
	}

	reg, err := d.store.GetRegistration(ctx, tracker.RegistrationID)
	if errors.Is(err, models.ErrNotFound) {
		tracker.MarkFailed(d.clock.Now(), err)
		return d.finish(ctx, tracker, loadedAt, nil, 0, log)
	}
	if err != nil {
		log.Warn("⚠️ [SYNC] failed to load registration", zap.Error(err))
		return outcomeSkipped
	}

	event := NewRegistrationEvent(reg)
	pushCtx, cancel := context.WithTimeout(ctx, d.pushTimeout)
	started := d.clock.Now()
	err = d.publisher.Publish(pushCtx, event)
	cancel()
	now := d.clock.Now()

	if err != nil {
		log.Warn("⚠️ [SYNC] push failed", zap.Error(err))
		tracker.RecordFailure(now, fmt.Errorf("%w: %v", models.ErrSyncAttemptFailed, err))
	} else {
		tracker.MarkSynced(now)
	}
	return d.finish(ctx, tracker, loadedAt, &event, now.Sub(started), log)
}

// finish saves the tracker if nobody touched it since it was loaded.
func (d *SyncDispatcher) finish(ctx context.Context, tracker *models.RegistrationSync, loadedAt time.Time, event *RegistrationEvent, took time.Duration, log *zap.Logger) string {
	if err := d.store.SaveSync(ctx, tracker, loadedAt); err != nil {
		if errors.Is(err, models.ErrConflict) {
			log.Info("⏭️ [SYNC] tracker changed during push, result discarded")
		} else {
			log.Error("❌ [SYNC] failed to save tracker", zap.Error(err))
		}
		d.metrics.ObserveSync(outcomeSkipped, took.Seconds())
		return outcomeSkipped
	}

	var outcome string
	switch tracker.Status {
	case models.SyncStatusSynced:
		outcome = outcomeSynced
		log.Info("✅ [SYNC] registration synced")
	case models.SyncStatusFailed:
		outcome = outcomeFailed
		log.Error("💀 [SYNC] registration sync gave up", zap.Stringp("last_error", tracker.LastError))
		d.archive(ctx, tracker, event)
	default:
		outcome = outcomeRetry
		log.Info("⏱️ [SYNC] retry scheduled", zap.Timep("next_attempt_at", tracker.NextAttemptAt))
	}
	d.metrics.ObserveSync(outcome, took.Seconds())
	return outcome
}

type deadLetterRecord struct {
	Tracker models.RegistrationSync `json:"tracker"`
	Event   *RegistrationEvent      `json:"event,omitempty"`
}

func (d *SyncDispatcher) archive(ctx context.Context, tracker *models.RegistrationSync, event *RegistrationEvent) {
	if d.deadLetter == nil {
		return
	}
	key := fmt.Sprintf("dead-letter/registrations/%s/%d.json", tracker.RegistrationID, tracker.UpdatedAt.UnixMilli())
	if err := d.deadLetter.PutJSON(ctx, key, deadLetterRecord{Tracker: *tracker, Event: event}); err != nil {
		zap.L().Warn("⚠️ [SYNC] dead-letter archive failed", zap.String("key", key), zap.Error(err))
	}
}

// ListFailed returns trackers that gave up, most recent first.
func (d *SyncDispatcher) ListFailed(ctx context.Context, limit int) ([]models.RegistrationSync, error) {
	return d.store.ListSyncs(ctx, models.SyncStatusFailed, limit)
}

// Requeue is the operator override that gives a FAILED tracker a fresh set
// of attempts.
func (d *SyncDispatcher) Requeue(ctx context.Context, registrationID string) (*models.RegistrationSync, error) {
	tracker, err := d.store.GetSyncByRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	loadedAt := tracker.UpdatedAt
	if err := tracker.Requeue(d.clock.Now()); err != nil {
		return nil, err
	}
	if err := d.store.SaveSync(ctx, tracker, loadedAt); err != nil {
		return nil, err
	}
	zap.L().Info("🔁 [SYNC] tracker requeued", zap.String("registration_id", registrationID))
	return tracker, nil
}

package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cutline/agent/internal/config"
	"github.com/cutline/agent/internal/models"
	"github.com/cutline/agent/internal/observability"
	"github.com/cutline/agent/internal/remote"
	"github.com/cutline/agent/internal/store"
)

// EngineState is the sync engine's cycle state
type EngineState string

const (
	StateIdle    EngineState = "idle"
	StatePushing EngineState = "pushing"
	StatePulling EngineState = "pulling"
	StateError   EngineState = "error"
)

// syncMetrics holds sync engine instruments
type syncMetrics struct {
	recordsPushed     metric.Int64Counter
	recordsPulled     metric.Int64Counter
	conflictsResolved metric.Int64Counter
	cycleDuration     metric.Float64Histogram
}

func newSyncMetrics() *syncMetrics {
	meter := otel.Meter("github.com/cutline/agent/services")

	m := &syncMetrics{}
	m.recordsPushed, _ = meter.Int64Counter(
		"sync.records_pushed",
		metric.WithDescription("Records confirmed pushed to the caption service"),
		metric.WithUnit("{records}"),
	)
	m.recordsPulled, _ = meter.Int64Counter(
		"sync.records_pulled",
		metric.WithDescription("Remote changes applied locally"),
		metric.WithUnit("{records}"),
	)
	m.conflictsResolved, _ = meter.Int64Counter(
		"sync.conflicts_resolved",
		metric.WithDescription("Conflicts resolved by last-writer-wins"),
		metric.WithUnit("{conflicts}"),
	)
	m.cycleDuration, _ = meter.Float64Histogram(
		"sync.cycle_duration",
		metric.WithDescription("Duration of one push/pull cycle in milliseconds"),
		metric.WithUnit("ms"),
	)
	return m
}

// SyncService reconciles the local record store against the remote caption
// service: one push-then-pull cycle at a time, triggers coalesced while a
// cycle is in flight.
type SyncService struct {
	store    *store.Store
	backend  remote.Backend
	resolver *ConflictResolver

	batchSize   int
	pageSize    int
	backoffMin  time.Duration
	backoffMax  time.Duration
	maxFailures int

	triggers chan struct{}
	metrics  *syncMetrics

	mu        sync.Mutex
	state     EngineState
	pending   bool
	failures  int
	lastError string
	retry     *time.Timer
}

// NewSyncService creates a SyncService. Call Run in a goroutine to start
// processing triggers.
func NewSyncService(recordStore *store.Store, backend remote.Backend, resolver *ConflictResolver, cfg *config.Config) *SyncService {
	return &SyncService{
		store:       recordStore,
		backend:     backend,
		resolver:    resolver,
		batchSize:   cfg.Sync.BatchSize,
		pageSize:    cfg.Sync.PageSize,
		backoffMin:  cfg.BackoffInitial(),
		backoffMax:  cfg.BackoffMax(),
		maxFailures: cfg.Sync.MaxConsecutiveFails,
		triggers:    make(chan struct{}, 1),
		metrics:     newSyncMetrics(),
		state:       StateIdle,
	}
}

// State returns the engine's current cycle state
func (s *SyncService) State() EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the message of the most recent failed cycle, empty
// after a successful one
func (s *SyncService) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// RequestSync asks for a sync cycle. While a cycle is running, additional
// requests collapse into a single pending flag, so trigger storms cannot
// queue more than one follow-up cycle.
func (s *SyncService) RequestSync() {
	s.mu.Lock()
	if s.state == StatePushing || s.state == StatePulling {
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

// Run processes sync triggers until the context is cancelled
func (s *SyncService) Run(ctx context.Context) {
	// Make sure we hold a subscription so incoming notifications can be
	// matched; failure here is not fatal, pull still works via triggers.
	if err := s.ensureSubscription(ctx); err != nil {
		log.Printf("Subscription setup failed: %v", err)
	}

	for {
		select {
		case <-s.triggers:
			s.runCycle(ctx)
		case <-ctx.Done():
			s.mu.Lock()
			if s.retry != nil {
				s.retry.Stop()
			}
			s.mu.Unlock()
			return
		}
	}
}

func (s *SyncService) ensureSubscription(ctx context.Context) error {
	id, err := s.store.SubscriptionID(ctx)
	if err != nil {
		return err
	}
	if id != "" {
		return nil
	}

	id, err = s.backend.Subscribe(ctx)
	if err != nil {
		return err
	}
	return s.store.SetSubscriptionID(ctx, id)
}

func (s *SyncService) setState(state EngineState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// runCycle performs one push-then-pull pass
func (s *SyncService) runCycle(ctx context.Context) {
	started := time.Now()

	s.setState(StatePushing)
	pushErr := s.push(ctx)
	if errors.Is(pushErr, remote.ErrUnauthorized) {
		s.failCycle(pushErr)
		return
	}

	s.setState(StatePulling)
	pullErr := s.pull(ctx)
	if errors.Is(pullErr, remote.ErrUnauthorized) {
		s.failCycle(pullErr)
		return
	}

	s.metrics.cycleDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	if pushErr != nil || pullErr != nil {
		err := pushErr
		if err == nil {
			err = pullErr
		}
		s.failCycle(err)
		return
	}

	if err := s.store.SetLastSyncAt(ctx, time.Now()); err != nil {
		log.Printf("Error persisting last sync time: %v", err)
	}

	s.mu.Lock()
	s.state = StateIdle
	s.failures = 0
	s.lastError = ""
	rerun := s.pending
	s.pending = false
	s.mu.Unlock()

	if rerun {
		s.RequestSync()
	}
}

// failCycle enters the error state and, for transient failures, schedules a
// bounded backoff retry. Auth failures never consume a retry slot; the
// engine waits for the next external trigger after re-authentication.
func (s *SyncService) failCycle(err error) {
	log.Printf("Sync cycle failed: %v", err)

	s.mu.Lock()
	s.state = StateError
	s.lastError = err.Error()
	s.pending = false

	var delay time.Duration
	if remote.IsTransient(err) {
		s.failures++
		if s.failures <= s.maxFailures {
			delay = s.backoff(s.failures)
		}
	}

	// Error is never terminal: return to idle so the next trigger can
	// start a fresh cycle
	s.state = StateIdle
	if delay > 0 {
		s.retry = time.AfterFunc(delay, s.RequestSync)
	}
	s.mu.Unlock()
}

func (s *SyncService) backoff(attempt int) time.Duration {
	delay := s.backoffMin
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.backoffMax {
			return s.backoffMax
		}
	}
	if delay > s.backoffMax {
		delay = s.backoffMax
	}
	return delay
}

// push sends local deletes first, then local creates and edits. Batches are
// processed per record: one record's failure never blocks or rolls back the
// others.
func (s *SyncService) push(ctx context.Context) error {
	ctx, span := observability.StartSyncSpan(ctx, "push")
	defer span.End()

	if err := s.pushTombstones(ctx); err != nil {
		observability.RecordError(span, err)
		return err
	}
	if err := s.pushUpserts(ctx); err != nil {
		observability.RecordError(span, err)
		return err
	}
	observability.SetSuccess(span)
	return nil
}

func (s *SyncService) pushTombstones(ctx context.Context) error {
	tombstones, err := s.store.FetchTombstoned(ctx, s.batchSize)
	if err != nil {
		return err
	}

	var purge []string
	var firstTransient error
	for _, record := range tombstones {
		if record.RemoteRef == nil {
			// Never pushed: a purely local delete needs no remote step
			purge = append(purge, record.ID)
			continue
		}

		err := s.backend.Delete(ctx, record.RemoteRef)
		switch {
		case err == nil, errors.Is(err, remote.ErrNotFound):
			// Already gone remotely counts as acknowledged
			purge = append(purge, record.ID)
		case errors.Is(err, remote.ErrUnauthorized):
			return err
		default:
			// Leave tombstoned for the next cycle
			log.Printf("Error deleting record %s remotely: %v", record.ID, err)
			if firstTransient == nil {
				firstTransient = err
			}
		}
	}

	if err := s.store.Purge(ctx, purge); err != nil {
		return err
	}
	return firstTransient
}

func (s *SyncService) pushUpserts(ctx context.Context) error {
	localOnly, err := s.store.FetchLocalOnly(ctx, s.batchSize)
	if err != nil {
		return err
	}
	dirty, err := s.store.FetchDirty(ctx, s.batchSize)
	if err != nil {
		return err
	}

	// Newly created records are both local-only and dirty; push each once
	seen := make(map[string]bool, len(localOnly)+len(dirty))
	candidates := make([]*models.Record, 0, len(localOnly)+len(dirty))
	for _, record := range append(localOnly, dirty...) {
		if !seen[record.ID] {
			seen[record.ID] = true
			candidates = append(candidates, record)
		}
	}

	var firstTransient error
	for _, record := range candidates {
		ref, err := s.backend.Upsert(ctx, record)
		switch {
		case err == nil:
			record.RemoteRef = ref
			cleared, err := s.store.ConfirmPushed(ctx, record)
			if err != nil {
				return err
			}
			if !cleared {
				// A newer edit landed while the push was in flight; the
				// record stays dirty and goes out again next cycle
				log.Printf("Record %s edited during push, keeping dirty", record.ID)
				continue
			}
			s.metrics.recordsPushed.Add(ctx, 1)
		case errors.Is(err, remote.ErrUnauthorized):
			return err
		default:
			// Dirty flag untouched, so the edit is retried next cycle
			log.Printf("Error pushing record %s: %v", record.ID, err)
			if firstTransient == nil {
				firstTransient = err
			}
		}
	}
	return firstTransient
}

// pull applies remote change pages, persisting the cursor after each fully
// applied page so a crash reprocesses at most one page
func (s *SyncService) pull(ctx context.Context) error {
	ctx, span := observability.StartSyncSpan(ctx, "pull")
	defer span.End()

	token, err := s.store.ChangeToken(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	for {
		page, err := s.backend.FetchChanges(ctx, token, s.pageSize)
		if err != nil {
			observability.RecordError(span, err)
			return err
		}

		for _, change := range page.Changes {
			if err := s.applyChange(ctx, change); err != nil {
				observability.RecordError(span, err)
				return err
			}
		}

		token = page.NextToken
		if err := s.store.SetChangeToken(ctx, token); err != nil {
			observability.RecordError(span, err)
			return err
		}

		if !page.HasMore {
			observability.SetSuccess(span)
			return nil
		}
	}
}

func (s *SyncService) applyChange(ctx context.Context, change models.RemoteChange) error {
	local, err := s.store.FetchByID(ctx, change.ID)
	if err != nil && !errors.Is(err, models.ErrRecordNotFound) {
		return err
	}

	incoming := recordFromChange(change)

	if change.Kind == models.ChangeDelete {
		if local == nil {
			return nil
		}
		if !local.Dirty {
			s.metrics.recordsPulled.Add(ctx, 1)
			return s.store.Purge(ctx, []string{local.ID})
		}

		// Local has unpushed edits; let last-writer-wins decide whether
		// the remote deletion stands
		s.metrics.conflictsResolved.Add(ctx, 1)
		if s.resolver.Resolve(local, incoming) == incoming {
			s.metrics.recordsPulled.Add(ctx, 1)
			return s.store.Purge(ctx, []string{local.ID})
		}
		return nil
	}

	if local == nil {
		s.metrics.recordsPulled.Add(ctx, 1)
		return s.store.ApplyRemote(ctx, incoming)
	}

	if local.Dirty || local.MarkedDeleted {
		s.metrics.conflictsResolved.Add(ctx, 1)
	}
	if s.resolver.Resolve(local, incoming) == local {
		// Local wins and stays dirty; it overwrites the remote version on
		// the next push
		return nil
	}

	incoming.DateAdded = local.DateAdded
	s.metrics.recordsPulled.Add(ctx, 1)
	return s.store.ApplyRemote(ctx, incoming)
}

// recordFromChange builds the remote version of a record for conflict
// resolution and local application. Remote deletions carry the tombstone
// flag so the resolver compares them like any other write.
func recordFromChange(change models.RemoteChange) *models.Record {
	record := &models.Record{
		ID:            change.ID,
		Caption:       change.Caption,
		DateAdded:     change.LastUpdated,
		LastUpdated:   change.LastUpdated,
		MarkedDeleted: change.Kind == models.ChangeDelete,
		RemoteRef:     change.RemoteRef,
	}
	if change.DateTaken != nil {
		record.DateTaken = *change.DateTaken
	}
	return record
}

package store

import (
	"context"
	"time"

	"github.com/cutline/agent/internal/models"
	"github.com/cutline/agent/internal/repository"
)

// Store is the single authoritative owner of caption record state. Every
// read and write funnels through one worker goroutine, so concurrent
// callers never observe a torn write and mutations to any record have a
// total order.
type Store struct {
	records repository.RecordRepo
	state   repository.SyncStateRepo

	tasks  chan func()
	quit   chan struct{}
	events chan struct{}

	listeners []func()
}

// NewStore creates a Store over the given repositories. Call Run in a
// goroutine before using it, and Close when done.
func NewStore(records repository.RecordRepo, state repository.SyncStateRepo) *Store {
	return &Store{
		records: records,
		state:   state,
		tasks:   make(chan func(), 64),
		quit:    make(chan struct{}),
		events:  make(chan struct{}, 1),
	}
}

// Run executes store operations serially until Close is called
func (s *Store) Run() {
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.quit:
			// Drain tasks already queued so no caller is left waiting
			for {
				select {
				case task := <-s.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Close stops the worker. Pending operations are drained first.
func (s *Store) Close() {
	close(s.quit)
}

// OnChange registers a callback invoked after record state changes.
// Notifications are coalesced and delivered on a separate goroutine, so
// callbacks may call back into the store.
func (s *Store) OnChange(fn func()) {
	s.listeners = append(s.listeners, fn)
	if len(s.listeners) == 1 {
		go s.deliverEvents()
	}
}

func (s *Store) deliverEvents() {
	for {
		select {
		case <-s.events:
			for _, fn := range s.listeners {
				fn()
			}
		case <-s.quit:
			return
		}
	}
}

func (s *Store) notify() {
	select {
	case s.events <- struct{}{}:
	default:
	}
}

// do submits fn to the worker and waits for it to complete
func (s *Store) do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-s.quit:
		return models.ErrStoreClosed
	default:
	}

	done := make(chan error, 1)
	task := func() { done <- fn(ctx) }

	select {
	case s.tasks <- task:
	case <-s.quit:
		return models.ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns all live records ordered by date added
func (s *Store) List(ctx context.Context) ([]*models.Record, error) {
	var records []*models.Record
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		records, err = s.records.GetAll(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FetchLocalOnly returns live records that have never been pushed
func (s *Store) FetchLocalOnly(ctx context.Context, limit int) ([]*models.Record, error) {
	var records []*models.Record
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		records, err = s.records.GetLocalOnly(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FetchDirty returns live records with unconfirmed local changes
func (s *Store) FetchDirty(ctx context.Context, limit int) ([]*models.Record, error) {
	var records []*models.Record
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		records, err = s.records.GetDirty(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FetchTombstoned returns records awaiting remote delete acknowledgment
func (s *Store) FetchTombstoned(ctx context.Context, limit int) ([]*models.Record, error) {
	var records []*models.Record
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		records, err = s.records.GetTombstoned(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FetchByID returns a single record, tombstoned or not
func (s *Store) FetchByID(ctx context.Context, id string) (*models.Record, error) {
	var record *models.Record
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		record, err = s.records.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if record == nil {
			return models.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Search returns live records whose caption contains the term, case-insensitively
func (s *Store) Search(ctx context.Context, term string) ([]*models.Record, error) {
	var records []*models.Record
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		records, err = s.records.Search(ctx, term)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetCounts returns record counts for sync status reporting
func (s *Store) GetCounts(ctx context.Context) (*repository.RecordCounts, error) {
	var counts *repository.RecordCounts
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		counts, err = s.records.GetCounts(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Create adds a new dirty record with no remote identity
func (s *Store) Create(ctx context.Context, id, caption string, dateTaken time.Time) (*models.Record, error) {
	record, err := models.NewRecord(id, caption, dateTaken)
	if err != nil {
		return nil, err
	}

	err = s.do(ctx, func(ctx context.Context) error {
		existing, err := s.records.GetByID(ctx, record.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return models.ErrDuplicateID
		}
		return s.records.Insert(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	s.notify()
	return record, nil
}

// Update edits a record's caption, bumping lastUpdated and marking it dirty.
// An unchanged caption is a no-op so it cannot cause sync churn.
func (s *Store) Update(ctx context.Context, id, caption string) (*models.Record, error) {
	var record *models.Record
	var changed bool

	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		record, err = s.records.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if record == nil || record.MarkedDeleted {
			return models.ErrRecordNotFound
		}
		if record.Caption == caption {
			return nil
		}

		record.Caption = caption
		record.LastUpdated = nextTimestamp(record.LastUpdated)
		record.Dirty = true
		changed = true
		return s.records.UpdateCaption(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.notify()
	}
	return record, nil
}

// SoftDelete tombstones a record. The row stays enumerable via
// FetchTombstoned until the remote delete is acknowledged and it is purged.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	err := s.do(ctx, func(ctx context.Context) error {
		record, err := s.records.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if record == nil {
			return models.ErrRecordNotFound
		}
		if record.MarkedDeleted {
			return nil
		}

		record.MarkedDeleted = true
		record.LastUpdated = nextTimestamp(record.LastUpdated)
		return s.records.MarkDeleted(ctx, record)
	})
	if err != nil {
		return err
	}

	s.notify()
	return nil
}

// ApplyRemote overwrites a record with remote state after conflict
// resolution, clearing the dirty flag
func (s *Store) ApplyRemote(ctx context.Context, record *models.Record) error {
	err := s.do(ctx, func(ctx context.Context) error {
		return s.records.ApplyRemote(ctx, record)
	})
	if err != nil {
		return err
	}

	s.notify()
	return nil
}

// ConfirmPushed clears the dirty flag and stores the returned remote ref,
// unless a newer local edit landed while the push was in flight. Returns
// false in that case; the record stays dirty and is retried next cycle.
func (s *Store) ConfirmPushed(ctx context.Context, record *models.Record) (bool, error) {
	var cleared bool
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		cleared, err = s.records.ClearDirty(ctx, record)
		return err
	})
	return cleared, err
}

// Purge hard-removes records whose deletion has been acknowledged remotely,
// or that never had a remote identity
func (s *Store) Purge(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	err := s.do(ctx, func(ctx context.Context) error {
		return s.records.Purge(ctx, ids)
	})
	if err != nil {
		return err
	}

	s.notify()
	return nil
}

// ChangeToken returns the persisted pull cursor; empty on first run
func (s *Store) ChangeToken(ctx context.Context) (string, error) {
	var token string
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		token, err = s.state.Get(ctx, repository.SyncStateChangeToken)
		return err
	})
	return token, err
}

// SetChangeToken persists the pull cursor. Called only after the
// corresponding page has been fully applied.
func (s *Store) SetChangeToken(ctx context.Context, token string) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.state.Set(ctx, repository.SyncStateChangeToken, token)
	})
}

// SubscriptionID returns the persisted remote subscription ID
func (s *Store) SubscriptionID(ctx context.Context) (string, error) {
	var id string
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.state.Get(ctx, repository.SyncStateSubscriptionID)
		return err
	})
	return id, err
}

// SetSubscriptionID persists the remote subscription ID
func (s *Store) SetSubscriptionID(ctx context.Context, id string) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.state.Set(ctx, repository.SyncStateSubscriptionID, id)
	})
}

// LastSyncAt returns the time the last successful cycle completed
func (s *Store) LastSyncAt(ctx context.Context) (*time.Time, error) {
	var value string
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		value, err = s.state.Get(ctx, repository.SyncStateLastSyncAt)
		return err
	})
	if err != nil || value == "" {
		return nil, err
	}

	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, err
	}
	return &at, nil
}

// SetLastSyncAt records the completion time of a successful cycle
func (s *Store) SetLastSyncAt(ctx context.Context, at time.Time) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.state.Set(ctx, repository.SyncStateLastSyncAt, at.UTC().Format(time.RFC3339Nano))
	})
}

// nextTimestamp keeps lastUpdated monotonically non-decreasing per record
// even when the wall clock steps backwards
func nextTimestamp(after time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(after) {
		now = after.Add(time.Microsecond)
	}
	return now
}

package repository

import (
	"context"

	"github.com/cutline/agent/internal/models"
)

// RecordCounts summarizes the store for sync status reporting
type RecordCounts struct {
	Total     int
	Dirty     int
	LocalOnly int
	Deleted   int
}

// RecordRepo defines the interface for caption record persistence
type RecordRepo interface {
	GetByID(ctx context.Context, id string) (*models.Record, error)
	GetAll(ctx context.Context) ([]*models.Record, error)
	GetLocalOnly(ctx context.Context, limit int) ([]*models.Record, error)
	GetDirty(ctx context.Context, limit int) ([]*models.Record, error)
	GetTombstoned(ctx context.Context, limit int) ([]*models.Record, error)
	Search(ctx context.Context, term string) ([]*models.Record, error)
	GetCounts(ctx context.Context) (*RecordCounts, error)
	Insert(ctx context.Context, record *models.Record) error
	UpdateCaption(ctx context.Context, record *models.Record) error
	MarkDeleted(ctx context.Context, record *models.Record) error
	ApplyRemote(ctx context.Context, record *models.Record) error
	ClearDirty(ctx context.Context, record *models.Record) (bool, error)
	Purge(ctx context.Context, ids []string) error
}

// Keys stored in the sync_state table
const (
	SyncStateChangeToken    = "change_token"
	SyncStateSubscriptionID = "subscription_id"
	SyncStateLastSyncAt     = "last_sync_at"
)

// SyncStateRepo defines the interface for sync cursor persistence
type SyncStateRepo interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

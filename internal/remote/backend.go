package remote

import (
	"context"
	"errors"

	"github.com/cutline/agent/internal/models"
)

// Backend is the caption service consumed by the sync engine. The wire
// encoding is an implementation detail; the engine depends only on this
// contract.
type Backend interface {
	// Upsert pushes a record, idempotent by record ID. Returns the remote
	// identity assigned (or re-confirmed) by the service.
	Upsert(ctx context.Context, record *models.Record) (*models.RemoteRef, error)

	// Delete removes a record by its remote ref. ErrNotFound means the
	// record is already gone remotely and counts as success for callers.
	Delete(ctx context.Context, ref *models.RemoteRef) error

	// FetchChanges returns one page of the change feed since the token.
	// An empty token requests the feed from the beginning.
	FetchChanges(ctx context.Context, sinceToken string, pageSize int) (*models.ChangePage, error)

	// Subscribe registers for change notifications and returns the
	// subscription ID incoming notifications will carry.
	Subscribe(ctx context.Context) (string, error)
}

// Sentinel errors classifying remote failures
var (
	ErrNotFound     = errors.New("remote: record not found")
	ErrUnauthorized = errors.New("remote: authentication failed")
)

// TransientError marks a failure worth retrying with backoff: network
// unreachable, timeout, or a 5xx-equivalent response
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "remote: transient failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried per the backoff policy
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

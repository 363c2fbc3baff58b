package services

import "github.com/cutline/agent/internal/models"

// ConflictResolver picks the winner between a local and a remote version of
// the same logical record
type ConflictResolver struct{}

// NewConflictResolver creates a new ConflictResolver
func NewConflictResolver() *ConflictResolver {
	return &ConflictResolver{}
}

// Resolve returns the version with the later lastUpdated timestamp. The
// winner is taken in full: caption, timestamps and deletion flag. Equal
// timestamps go to the remote version, so every device converges on the
// same value without a secondary tie-break key. This picks a deterministic
// outcome, not necessarily the user's intent.
func (r *ConflictResolver) Resolve(local, remote *models.Record) *models.Record {
	if local.LastUpdated.After(remote.LastUpdated) {
		return local
	}
	return remote
}

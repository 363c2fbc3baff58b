package models

import (
	"strings"
	"time"
)

// Record represents one captioned photo tracked by the agent
type Record struct {
	ID            string     `json:"id"`
	Caption       string     `json:"caption"`
	DateTaken     time.Time  `json:"dateTaken"`
	DateAdded     time.Time  `json:"dateAdded"`
	LastUpdated   time.Time  `json:"lastUpdated"`
	Dirty         bool       `json:"dirty"`
	MarkedDeleted bool       `json:"markedDeleted"`
	RemoteRef     *RemoteRef `json:"remoteRef,omitempty"`
}

// RemoteRef is the opaque remote identity of a record that has been
// accepted by the caption service at least once
type RemoteRef struct {
	Ref     string `json:"ref"`
	Version int64  `json:"version"`
}

// NewRecord creates a new dirty, never-pushed Record
func NewRecord(id, caption string, dateTaken time.Time) (*Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptyID
	}

	now := time.Now().UTC()
	return &Record{
		ID:          id,
		Caption:     caption,
		DateTaken:   dateTaken.UTC(),
		DateAdded:   now,
		LastUpdated: now,
		Dirty:       true,
	}, nil
}

// Pushed returns true if the record has been accepted by the remote
// service at least once
func (r *Record) Pushed() bool {
	return r.RemoteRef != nil
}

// Errors
type RecordError struct {
	Message string
}

func (e RecordError) Error() string {
	return e.Message
}

var (
	ErrEmptyID        = RecordError{"record id cannot be empty"}
	ErrRecordNotFound = RecordError{"record not found"}
	ErrDuplicateID    = RecordError{"record id already exists"}
	ErrStoreClosed    = RecordError{"record store is closed"}
)

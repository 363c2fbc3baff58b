package models

import "time"

// ChangeKind classifies a remote change feed entry
type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeDelete ChangeKind = "delete"
)

// RemoteChange is one entry in the remote change feed
type RemoteChange struct {
	Kind        ChangeKind `json:"kind"`
	ID          string     `json:"id"`
	Caption     string     `json:"caption,omitempty"`
	DateTaken   *time.Time `json:"dateTaken,omitempty"`
	LastUpdated time.Time  `json:"lastUpdated"`
	RemoteRef   *RemoteRef `json:"remoteRef,omitempty"`
}

// ChangePage is one page of the remote change feed
type ChangePage struct {
	Changes   []RemoteChange `json:"changes"`
	NextToken string         `json:"nextToken"`
	HasMore   bool           `json:"hasMore"`
}

// SyncStatusResponse for GET /api/sync/status
type SyncStatusResponse struct {
	State            string     `json:"state"`
	TotalRecords     int        `json:"totalRecords"`
	DirtyRecords     int        `json:"dirtyRecords"`
	LocalOnlyRecords int        `json:"localOnlyRecords"`
	DeletedPending   int        `json:"deletedPending"`
	LastSyncAt       *time.Time `json:"lastSyncAt,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
}

// CreateRecordRequest for POST /api/records
type CreateRecordRequest struct {
	ID        string     `json:"id,omitempty"`
	Caption   string     `json:"caption"`
	DateTaken *time.Time `json:"dateTaken,omitempty"`
}

// UpdateRecordRequest for PUT /api/records/{id}
type UpdateRecordRequest struct {
	Caption string `json:"caption"`
}

// RecordListResponse is returned when listing or searching records
type RecordListResponse struct {
	Records    []Record `json:"records"`
	TotalCount int      `json:"totalCount"`
}

// ErrorResponse is a generic error payload
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse for GET /api/health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/cutline/agent/internal/models"
)

const recordColumns = `id, caption, date_taken, date_added, last_updated, dirty, marked_deleted, remote_ref, remote_version`

// RecordRepository handles caption record persistence on SQLite
type RecordRepository struct {
	db *sql.DB
}

// NewRecordRepository creates a new RecordRepository
func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func scanRecord(scanner interface{ Scan(...interface{}) error }) (*models.Record, error) {
	var record models.Record
	var remoteRef sql.NullString
	var remoteVersion sql.NullInt64

	err := scanner.Scan(
		&record.ID,
		&record.Caption,
		&record.DateTaken,
		&record.DateAdded,
		&record.LastUpdated,
		&record.Dirty,
		&record.MarkedDeleted,
		&remoteRef,
		&remoteVersion,
	)
	if err != nil {
		return nil, err
	}

	if remoteRef.Valid {
		record.RemoteRef = &models.RemoteRef{
			Ref:     remoteRef.String,
			Version: remoteVersion.Int64,
		}
	}

	return &record, nil
}

func remoteRefValues(record *models.Record) (sql.NullString, sql.NullInt64) {
	if record.RemoteRef == nil {
		return sql.NullString{}, sql.NullInt64{}
	}
	return sql.NullString{String: record.RemoteRef.Ref, Valid: true},
		sql.NullInt64{Int64: record.RemoteRef.Version, Valid: true}
}

// GetByID retrieves a record by its ID, including tombstoned records
func (r *RecordRepository) GetByID(ctx context.Context, id string) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = ?`

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetAll retrieves all live records ordered by date added
func (r *RecordRepository) GetAll(ctx context.Context) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE marked_deleted = 0
		ORDER BY date_added ASC`

	return r.queryRecords(ctx, query)
}

// GetLocalOnly retrieves live records that have never been pushed
func (r *RecordRepository) GetLocalOnly(ctx context.Context, limit int) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE remote_ref IS NULL AND marked_deleted = 0
		ORDER BY date_added ASC`

	return r.queryRecords(ctx, withLimit(query, limit))
}

// GetDirty retrieves live records with unpushed local changes
func (r *RecordRepository) GetDirty(ctx context.Context, limit int) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE dirty = 1 AND marked_deleted = 0
		ORDER BY date_added ASC`

	return r.queryRecords(ctx, withLimit(query, limit))
}

// GetTombstoned retrieves records deleted locally but not yet acknowledged remotely
func (r *RecordRepository) GetTombstoned(ctx context.Context, limit int) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE marked_deleted = 1
		ORDER BY date_added ASC`

	return r.queryRecords(ctx, withLimit(query, limit))
}

// Search retrieves live records whose caption contains the term, case-insensitively
func (r *RecordRepository) Search(ctx context.Context, term string) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE marked_deleted = 0 AND LOWER(caption) LIKE ?
		ORDER BY date_added ASC`

	pattern := "%" + strings.ToLower(term) + "%"
	return r.queryRecords(ctx, query, pattern)
}

// GetCounts returns record counts for sync status reporting
func (r *RecordRepository) GetCounts(ctx context.Context) (*RecordCounts, error) {
	query := `SELECT
		COUNT(CASE WHEN marked_deleted = 0 THEN 1 END),
		COUNT(CASE WHEN dirty = 1 AND marked_deleted = 0 THEN 1 END),
		COUNT(CASE WHEN remote_ref IS NULL AND marked_deleted = 0 THEN 1 END),
		COUNT(CASE WHEN marked_deleted = 1 THEN 1 END)
		FROM records`

	var counts RecordCounts
	err := r.db.QueryRowContext(ctx, query).Scan(
		&counts.Total,
		&counts.Dirty,
		&counts.LocalOnly,
		&counts.Deleted,
	)
	if err != nil {
		return nil, err
	}
	return &counts, nil
}

// Insert adds a new record
func (r *RecordRepository) Insert(ctx context.Context, record *models.Record) error {
	query := `INSERT INTO records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	ref, version := remoteRefValues(record)
	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.Caption,
		record.DateTaken,
		record.DateAdded,
		record.LastUpdated,
		record.Dirty,
		record.MarkedDeleted,
		ref,
		version,
	)
	return err
}

// UpdateCaption writes a caption edit, marking the record dirty
func (r *RecordRepository) UpdateCaption(ctx context.Context, record *models.Record) error {
	query := `UPDATE records SET caption = ?, last_updated = ?, dirty = 1 WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, record.Caption, record.LastUpdated, record.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

// MarkDeleted tombstones a record
func (r *RecordRepository) MarkDeleted(ctx context.Context, record *models.Record) error {
	query := `UPDATE records SET marked_deleted = 1, last_updated = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, record.LastUpdated, record.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

// ApplyRemote overwrites a record with remote state, clearing the dirty flag
func (r *RecordRepository) ApplyRemote(ctx context.Context, record *models.Record) error {
	query := `INSERT INTO records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			caption = excluded.caption,
			date_taken = excluded.date_taken,
			last_updated = excluded.last_updated,
			dirty = 0,
			marked_deleted = excluded.marked_deleted,
			remote_ref = excluded.remote_ref,
			remote_version = excluded.remote_version`

	ref, version := remoteRefValues(record)
	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.Caption,
		record.DateTaken,
		record.DateAdded,
		record.LastUpdated,
		record.MarkedDeleted,
		ref,
		version,
	)
	return err
}

// ClearDirty clears the dirty flag and stores the remote ref, but only if the
// record's last_updated still matches the value that was pushed. Returns false
// when a newer edit exists and the record stays dirty.
func (r *RecordRepository) ClearDirty(ctx context.Context, record *models.Record) (bool, error) {
	query := `UPDATE records SET dirty = 0, remote_ref = ?, remote_version = ?
		WHERE id = ? AND last_updated = ?`

	ref, version := remoteRefValues(record)
	result, err := r.db.ExecContext(ctx, query, ref, version, record.ID, record.LastUpdated)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Purge hard-removes records by ID
func (r *RecordRepository) Purge(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := `DELETE FROM records WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *RecordRepository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*models.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if records == nil {
		records = []*models.Record{}
	}

	return records, rows.Err()
}

func withLimit(query string, limit int) string {
	if limit <= 0 {
		return query
	}
	return query + " LIMIT " + strconv.Itoa(limit)
}

func requireRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrRecordNotFound
	}
	return nil
}

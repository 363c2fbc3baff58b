package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/cutline/agent/internal/models"
)

// RecordRepositoryPostgres handles caption record persistence on PostgreSQL
type RecordRepositoryPostgres struct {
	db *sql.DB
}

// NewRecordRepositoryPostgres creates a new RecordRepositoryPostgres
func NewRecordRepositoryPostgres(db *sql.DB) *RecordRepositoryPostgres {
	return &RecordRepositoryPostgres{db: db}
}

// GetByID retrieves a record by its ID, including tombstoned records
func (r *RecordRepositoryPostgres) GetByID(ctx context.Context, id string) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = $1`

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
func (r *RecordRepositoryPostgres) GetAll(ctx context.Context) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE marked_deleted = FALSE
		ORDER BY date_added ASC`

	return r.queryRecords(ctx, query)
}

// GetLocalOnly retrieves live records that have never been pushed
func (r *RecordRepositoryPostgres) GetLocalOnly(ctx context.Context, limit int) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE remote_ref IS NULL AND marked_deleted = FALSE
		ORDER BY date_added ASC`

	return r.queryRecords(ctx, withLimit(query, limit))
}

// GetDirty retrieves live records with unpushed local changes
func (r *RecordRepositoryPostgres) GetDirty(ctx context.Context, limit int) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE dirty = TRUE AND marked_deleted = FALSE
		ORDER BY date_added ASC`

	return r.queryRecords(ctx, withLimit(query, limit))
}

// GetTombstoned retrieves records deleted locally but not yet acknowledged remotely
func (r *RecordRepositoryPostgres) GetTombstoned(ctx context.Context, limit int) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE marked_deleted = TRUE
		ORDER BY date_added ASC`

	return r.queryRecords(ctx, withLimit(query, limit))
}

// Search retrieves live records whose caption contains the term, case-insensitively
func (r *RecordRepositoryPostgres) Search(ctx context.Context, term string) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE marked_deleted = FALSE AND caption ILIKE $1
		ORDER BY date_added ASC`

	pattern := "%" + term + "%"
	return r.queryRecords(ctx, query, pattern)
}

// GetCounts returns record counts for sync status reporting
func (r *RecordRepositoryPostgres) GetCounts(ctx context.Context) (*RecordCounts, error) {
	query := `SELECT
		COUNT(CASE WHEN marked_deleted = FALSE THEN 1 END),
		COUNT(CASE WHEN dirty = TRUE AND marked_deleted = FALSE THEN 1 END),
		COUNT(CASE WHEN remote_ref IS NULL AND marked_deleted = FALSE THEN 1 END),
		COUNT(CASE WHEN marked_deleted = TRUE THEN 1 END)
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
func (r *RecordRepositoryPostgres) Insert(ctx context.Context, record *models.Record) error {
	query := `INSERT INTO records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

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
func (r *RecordRepositoryPostgres) UpdateCaption(ctx context.Context, record *models.Record) error {
	query := `UPDATE records SET caption = $1, last_updated = $2, dirty = TRUE WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, record.Caption, record.LastUpdated, record.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

// MarkDeleted tombstones a record
func (r *RecordRepositoryPostgres) MarkDeleted(ctx context.Context, record *models.Record) error {
	query := `UPDATE records SET marked_deleted = TRUE, last_updated = $1 WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, record.LastUpdated, record.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

// ApplyRemote overwrites a record with remote state, clearing the dirty flag
func (r *RecordRepositoryPostgres) ApplyRemote(ctx context.Context, record *models.Record) error {
	query := `INSERT INTO records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			caption = EXCLUDED.caption,
			date_taken = EXCLUDED.date_taken,
			last_updated = EXCLUDED.last_updated,
			dirty = FALSE,
			marked_deleted = EXCLUDED.marked_deleted,
			remote_ref = EXCLUDED.remote_ref,
			remote_version = EXCLUDED.remote_version`

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
// record's last_updated still matches the value that was pushed
func (r *RecordRepositoryPostgres) ClearDirty(ctx context.Context, record *models.Record) (bool, error) {
	query := `UPDATE records SET dirty = FALSE, remote_ref = $1, remote_version = $2
		WHERE id = $3 AND last_updated = $4`

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
func (r *RecordRepositoryPostgres) Purge(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}

	query := `DELETE FROM records WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *RecordRepositoryPostgres) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*models.Record, error) {
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

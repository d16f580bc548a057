package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DBLogger writes audit records to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log appends an audit record. There is no update path: records are
// append-only by design.
func (l *DBLogger) Log(ctx context.Context, record *Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_records (timestamp, event_type, status, principal_id,
		                           organization_id, resource_table, resource_id, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := l.db.QueryRowContext(ctx, query,
		record.Timestamp, record.EventType, record.Status, record.PrincipalID,
		record.OrganizationID, record.ResourceTable, record.ResourceID, record.Message,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Query lists audit records matching the filter, most recent first
func (l *DBLogger) Query(ctx context.Context, filter QueryFilter) ([]*Record, error) {
	var conds []string
	var args []interface{}
	idx := 1

	addCond := func(cond string, arg interface{}) {
		conds = append(conds, fmt.Sprintf(cond, idx))
		args = append(args, arg)
		idx++
	}

	if filter.StartTime != nil {
		addCond("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		addCond("timestamp < $%d", *filter.EndTime)
	}
	if filter.PrincipalID != nil {
		addCond("principal_id = $%d", *filter.PrincipalID)
	}
	if filter.OrganizationID != nil {
		addCond("organization_id = $%d", *filter.OrganizationID)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			placeholders[i] = fmt.Sprintf("$%d", idx)
			args = append(args, et)
			idx++
		}
		conds = append(conds, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `
		SELECT id, timestamp, event_type, status, principal_id, organization_id,
		       COALESCE(resource_table, ''), COALESCE(resource_id, ''), COALESCE(message, '')
		FROM audit_records
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.EventType, &r.Status,
			&r.PrincipalID, &r.OrganizationID, &r.ResourceTable, &r.ResourceID, &r.Message); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gatehouse-dev/gatehouse/pkg/relmodel"
)

// ErrConstraintViolationOnCascade is returned when a restrict relationship
// still has child rows referencing the parent being deleted. The wrapping
// ConstraintViolationError names the relationship and the row count.
var ErrConstraintViolationOnCascade = errors.New("constraint violation on cascade")

// ErrParentNotFound is returned when the parent row to delete does not exist
var ErrParentNotFound = errors.New("parent row not found")

// ConstraintViolationError reports which restrict relationship blocked a
// delete and how many child rows reference the parent.
type ConstraintViolationError struct {
	Relationship string
	ChildTable   string
	Rows         int64
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("cannot delete: %d row(s) in %s still reference parent via %s",
		e.Rows, e.ChildTable, e.Relationship)
}

func (e *ConstraintViolationError) Unwrap() error {
	return ErrConstraintViolationOnCascade
}

// CascadeDeleter deletes parent rows by applying the relationship model's
// delete policies inside a single transaction. Restrict relationships are
// checked before anything is touched, so a blocked delete leaves every table
// unchanged; set-null and cascade effects commit together with the parent
// delete or not at all.
type CascadeDeleter struct {
	db    *sql.DB
	model *relmodel.Model
}

// NewCascadeDeleter creates a deleter bound to the given model
func NewCascadeDeleter(db *sql.DB, model *relmodel.Model) (*CascadeDeleter, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if model == nil {
		return nil, fmt.Errorf("relationship model is required")
	}
	return &CascadeDeleter{db: db, model: model}, nil
}

// DeletePrincipal removes a principal and applies the delete policy of every
// relationship whose parent is the principals table
func (d *CascadeDeleter) DeletePrincipal(ctx context.Context, principalID int64) error {
	return d.deleteParent(ctx, "principals", principalID)
}

// DeleteOrganization removes an organization and applies the delete policy of
// every relationship whose parent is the organizations table
func (d *CascadeDeleter) DeleteOrganization(ctx context.Context, orgID int64) error {
	return d.deleteParent(ctx, "organizations", orgID)
}

func (d *CascadeDeleter) deleteParent(ctx context.Context, parentTable string, parentID int64) error {
	children := d.model.ChildrenOf(parentTable)

	return WithTx(ctx, d.db, func(tx *sql.Tx) error {
		// Restrict checks come first: a single blocking relationship aborts
		// the whole delete before any row is modified.
		for _, rel := range children {
			if rel.Policy != relmodel.PolicyRestrict {
				continue
			}
			count, err := countChildRows(ctx, tx, rel, parentID)
			if err != nil {
				return err
			}
			if count > 0 {
				return &ConstraintViolationError{
					Relationship: rel.Name,
					ChildTable:   rel.ChildTable,
					Rows:         count,
				}
			}
		}

		for _, rel := range children {
			switch rel.Policy {
			case relmodel.PolicySetNull:
				query := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = $1",
					rel.ChildTable, rel.ChildColumn, rel.ChildColumn)
				if _, err := tx.ExecContext(ctx, query, parentID); err != nil {
					return fmt.Errorf("failed to null references for %s: %w", rel.Name, err)
				}
			case relmodel.PolicyCascade:
				query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
					rel.ChildTable, rel.ChildColumn)
				if _, err := tx.ExecContext(ctx, query, parentID); err != nil {
					return fmt.Errorf("failed to cascade delete %s: %w", rel.Name, err)
				}
			}
		}

		query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
			parentTable, parentColumn(children, parentTable))
		res, err := tx.ExecContext(ctx, query, parentID)
		if err != nil {
			return fmt.Errorf("failed to delete %s row: %w", parentTable, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%s %d: %w", parentTable, parentID, ErrParentNotFound)
		}
		return nil
	})
}

func countChildRows(ctx context.Context, tx *sql.Tx, rel relmodel.Relationship, parentID int64) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = $1", rel.ChildTable, rel.ChildColumn)
	var count int64
	if err := tx.QueryRowContext(ctx, query, parentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s rows for %s: %w", rel.ChildTable, rel.Name, err)
	}
	return count, nil
}

func parentColumn(children []relmodel.Relationship, parentTable string) string {
	for _, rel := range children {
		if rel.ParentTable == parentTable {
			return rel.ParentColumn
		}
	}
	return "id"
}

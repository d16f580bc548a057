package migrate

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gatehouse-dev/gatehouse/pkg/audit"
	"github.com/gatehouse-dev/gatehouse/pkg/relmodel"
)

// Reconcile is stage 2: for relationships whose child stores a heterogeneous
// legacy key (free text instead of a parent id), add the resolved reference
// column and best-effort populate it by correlating against the parent table.
// Rows that fail to correlate stay NULL and are reported; the legacy column
// itself is never modified.
//
// Idempotent: the column add is guarded by IF NOT EXISTS and the populate
// only touches rows still NULL.
func (p *Pipeline) Reconcile(ctx context.Context) (*Report, error) {
	report := newReport("reconcile", p.model.Version())
	defer report.finish()

	var blocker *PipelineError
	for _, rel := range p.model.Relationships() {
		if !rel.NeedsReconcile() {
			report.add(RelationshipReport{Relationship: rel.Name, Status: StatusSkipped})
			continue
		}

		unresolved, err := p.reconcileRelationship(ctx, rel)
		if err != nil {
			report.add(RelationshipReport{Relationship: rel.Name, Status: StatusFailed, Detail: err.Error()})
			p.recordStage(ctx, audit.EventTypeMigrationStage, "reconcile", err)
			return report, err
		}

		row := RelationshipReport{Relationship: rel.Name, Status: StatusReconciled}
		if unresolved > 0 {
			row.Status = StatusBlocked
			row.Detail = fmt.Sprintf("%d legacy values did not correlate", unresolved)
			if blocker == nil {
				blocker = &PipelineError{
					Category:     CategoryTypeMismatch,
					Relationship: rel.Name,
					Rows:         unresolved,
				}
			}
		}
		report.add(row)

		p.log.WithFields(logrus.Fields{
			"relationship": rel.Name,
			"unresolved":   unresolved,
		}).Info("reconciled legacy references")
	}

	var err error
	if blocker != nil {
		err = blocker
	}
	p.recordStage(ctx, audit.EventTypeMigrationStage, "reconcile", err)
	return report, err
}

func (p *Pipeline) reconcileRelationship(ctx context.Context, rel relmodel.Relationship) (int64, error) {
	addColumn := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s BIGINT",
		rel.ChildTable, rel.ChildColumn)
	if err := p.execLocked(ctx, addColumn); err != nil {
		return 0, fmt.Errorf("failed to add resolved column for %s: %w", rel.Name, err)
	}

	populate := fmt.Sprintf(`
		UPDATE %s c SET %s = p.%s
		FROM %s p
		WHERE c.%s = p.%s AND c.%s IS NULL AND c.%s IS NOT NULL`,
		rel.ChildTable, rel.ChildColumn, rel.ParentColumn,
		rel.ParentTable,
		rel.LegacyColumn, rel.CorrelateBy, rel.ChildColumn, rel.LegacyColumn,
	)
	if _, err := p.db.ExecContext(ctx, populate); err != nil {
		return 0, fmt.Errorf("failed to populate resolved column for %s: %w", rel.Name, err)
	}

	// Unresolved rows carry a legacy value that matched no parent
	countQuery := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL AND %s IS NULL",
		rel.ChildTable, rel.LegacyColumn, rel.ChildColumn,
	)
	var unresolved int64
	if err := p.db.QueryRowContext(ctx, countQuery).Scan(&unresolved); err != nil {
		return 0, fmt.Errorf("failed to count unresolved rows for %s: %w", rel.Name, err)
	}
	return unresolved, nil
}

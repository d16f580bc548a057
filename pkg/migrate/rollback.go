package migrate

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gatehouse-dev/gatehouse/pkg/audit"
)

// Rollback is the generated exact inverse of the forward pipeline: drop the
// installed foreign keys in reverse install order, drop the uniqueness
// constraints, then drop the resolved columns stage 2 added. Constraints the
// pipeline never installed are left untouched, so rollback restores the exact
// pre-migration catalog rather than "no constraints".
//
// A failed drop halts immediately with RollbackIncomplete: the store is in a
// mixed state that requires manual reconciliation before re-attempting a
// forward migration.
func (p *Pipeline) Rollback(ctx context.Context) (*Report, error) {
	report := newReport("rollback", p.model.Version())
	defer report.finish()

	order, err := p.model.InstallOrder()
	if err != nil {
		return report, err
	}

	// Reverse install order: dependents drop before their dependencies
	for i := len(order) - 1; i >= 0; i-- {
		rel := order[i]

		if err := p.dropConstraint(ctx, rel.ChildTable, rel.ConstraintName()); err != nil {
			rollbackErr := &PipelineError{Category: CategoryRollbackIncomplete, Relationship: rel.Name, Err: err}
			report.add(RelationshipReport{Relationship: rel.Name, Status: StatusFailed, Detail: err.Error()})
			p.recordStage(ctx, audit.EventTypeMigrationRollback, "rollback", rollbackErr)
			return report, rollbackErr
		}

		if rel.Unique != nil {
			if err := p.dropConstraint(ctx, rel.ChildTable, rel.Unique.Name); err != nil {
				rollbackErr := &PipelineError{Category: CategoryRollbackIncomplete, Relationship: rel.Name, Err: err}
				report.add(RelationshipReport{Relationship: rel.Name, Status: StatusFailed, Detail: err.Error()})
				p.recordStage(ctx, audit.EventTypeMigrationRollback, "rollback", rollbackErr)
				return report, rollbackErr
			}
		}

		if rel.NeedsReconcile() {
			drop := fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s",
				rel.ChildTable, rel.ChildColumn)
			if err := p.execLocked(ctx, drop); err != nil {
				rollbackErr := &PipelineError{Category: CategoryRollbackIncomplete, Relationship: rel.Name, Err: err}
				report.add(RelationshipReport{Relationship: rel.Name, Status: StatusFailed, Detail: err.Error()})
				p.recordStage(ctx, audit.EventTypeMigrationRollback, "rollback", rollbackErr)
				return report, rollbackErr
			}
		}

		report.add(RelationshipReport{Relationship: rel.Name, Status: StatusDropped})
		p.log.WithFields(logrus.Fields{
			"relationship": rel.Name,
			"constraint":   rel.ConstraintName(),
		}).Info("constraint dropped")
	}

	p.recordStage(ctx, audit.EventTypeMigrationRollback, "rollback", nil)
	return report, nil
}

func (p *Pipeline) dropConstraint(ctx context.Context, table, name string) error {
	statement := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", table, name)
	if err := p.execLocked(ctx, statement); err != nil {
		return fmt.Errorf("failed to drop constraint %s on %s: %w", name, table, err)
	}
	return nil
}

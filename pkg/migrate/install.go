package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/gatehouse-dev/gatehouse/pkg/audit"
	"github.com/gatehouse-dev/gatehouse/pkg/relmodel"
)

// lockNotAvailable is the PostgreSQL SQLSTATE raised when lock_timeout expires
const lockNotAvailable = "55P03"

// Install is stage 4: add the model's foreign-key constraints, strictly one
// relationship at a time in dependency order. Sequential installation bounds
// lock contention to a single table at a time and keeps the run abortable:
// after any completed relationship the store is more constrained but still
// consistent, never holding a half-written constraint.
//
// Install re-runs validation first and refuses to touch the store while any
// relationship has orphans. The first failed install halts the stage naming
// the relationship; there is no automatic retry.
func (p *Pipeline) Install(ctx context.Context) (*Report, error) {
	if _, err := p.Validate(ctx); err != nil {
		return nil, err
	}

	report := newReport("install", p.model.Version())
	defer report.finish()

	order, err := p.model.InstallOrder()
	if err != nil {
		return report, err
	}

	for _, rel := range order {
		status, err := p.installForeignKey(ctx, rel)
		row := RelationshipReport{Relationship: rel.Name, Status: status}
		if err != nil {
			row.Status = StatusFailed
			row.Detail = err.Error()
			report.add(row)
			p.recordStage(ctx, audit.EventTypeMigrationStage, "install", err)
			return report, err
		}
		report.add(row)

		p.log.WithFields(logrus.Fields{
			"relationship": rel.Name,
			"constraint":   rel.ConstraintName(),
			"status":       status,
		}).Info("foreign key processed")
	}

	p.recordStage(ctx, audit.EventTypeMigrationStage, "install", nil)
	return report, nil
}

func (p *Pipeline) installForeignKey(ctx context.Context, rel relmodel.Relationship) (string, error) {
	exists, err := p.constraintExists(ctx, rel.ChildTable, rel.ConstraintName())
	if err != nil {
		return "", err
	}
	if exists {
		return StatusAlreadyInstalled, nil
	}

	statement := fmt.Sprintf(
		"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
		rel.ChildTable, rel.ConstraintName(), rel.ChildColumn,
		rel.ParentTable, rel.ParentColumn, rel.Policy.SQLAction(),
	)
	if err := p.execLocked(ctx, statement); err != nil {
		return "", p.classifyInstallError(rel.Name, err)
	}
	return StatusInstalled, nil
}

// classifyInstallError separates lock timeouts (retriable after the window
// quiets down) from genuine install failures (require remediation).
func (p *Pipeline) classifyInstallError(relName string, err error) error {
	category := CategoryInstallFailed

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == lockNotAvailable {
		category = CategoryLockTimeout
	}

	return &PipelineError{
		Category:     category,
		Relationship: relName,
		Err:          err,
	}
}

package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gatehouse-dev/gatehouse/pkg/audit"
	"github.com/gatehouse-dev/gatehouse/pkg/relmodel"
)

// Dedupe is stage 3: for every uniqueness constraint the model declares,
// check for duplicate rows and, when clean, install the UNIQUE constraint.
//
// Duplicates block progress and are only reported — resolution (typically
// keeping the most recent row) is an operator decision, never something the
// pipeline does destructively on its own.
func (p *Pipeline) Dedupe(ctx context.Context) (*Report, error) {
	report := newReport("dedupe", p.model.Version())
	defer report.finish()

	var blocker *PipelineError
	for _, rel := range p.model.Relationships() {
		if rel.Unique == nil {
			report.add(RelationshipReport{Relationship: rel.Name, Status: StatusSkipped})
			continue
		}

		duplicates, err := p.duplicateCount(ctx, rel)
		if err != nil {
			report.add(RelationshipReport{Relationship: rel.Name, Status: StatusFailed, Detail: err.Error()})
			p.recordStage(ctx, audit.EventTypeMigrationStage, "dedupe", err)
			return report, err
		}

		row := RelationshipReport{Relationship: rel.Name, DuplicateCount: duplicates}
		if duplicates > 0 {
			row.Status = StatusBlocked
			row.Detail = fmt.Sprintf("%d duplicate rows for unique constraint %s", duplicates, rel.Unique.Name)
			report.add(row)
			if blocker == nil {
				blocker = &PipelineError{
					Category:     CategoryDuplicates,
					Relationship: rel.Name,
					Rows:         duplicates,
				}
			}
			continue
		}

		status, err := p.installUnique(ctx, rel)
		if err != nil {
			row.Status = StatusFailed
			row.Detail = err.Error()
			report.add(row)
			p.recordStage(ctx, audit.EventTypeMigrationStage, "dedupe", err)
			return report, err
		}
		row.Status = status
		report.add(row)

		p.log.WithFields(logrus.Fields{
			"relationship": rel.Name,
			"constraint":   rel.Unique.Name,
			"status":       status,
		}).Info("uniqueness constraint processed")
	}

	var err error
	if blocker != nil {
		err = blocker
	}
	p.recordStage(ctx, audit.EventTypeMigrationStage, "dedupe", err)
	return report, err
}

// duplicateCount counts rows in excess of one per key group. A group of three
// identical keys counts as two duplicates, matching the number of rows the
// operator must remove.
func (p *Pipeline) duplicateCount(ctx context.Context, rel relmodel.Relationship) (int64, error) {
	cols := strings.Join(rel.Unique.Columns, ", ")
	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(n - 1), 0) FROM (
			SELECT COUNT(*) AS n FROM %s GROUP BY %s HAVING COUNT(*) > 1
		) dups`,
		rel.ChildTable, cols,
	)
	var duplicates int64
	if err := p.db.QueryRowContext(ctx, query).Scan(&duplicates); err != nil {
		return 0, fmt.Errorf("failed to count duplicates for %s: %w", rel.Name, err)
	}
	return duplicates, nil
}

func (p *Pipeline) installUnique(ctx context.Context, rel relmodel.Relationship) (string, error) {
	exists, err := p.constraintExists(ctx, rel.ChildTable, rel.Unique.Name)
	if err != nil {
		return "", err
	}
	if exists {
		return StatusAlreadyInstalled, nil
	}

	statement := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)",
		rel.ChildTable, rel.Unique.Name, strings.Join(rel.Unique.Columns, ", "))
	if err := p.execLocked(ctx, statement); err != nil {
		return "", p.classifyInstallError(rel.Name, err)
	}
	return StatusInstalled, nil
}

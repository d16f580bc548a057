package migrate

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/gatehouse-dev/gatehouse/pkg/audit"
)

// Validate is stage 1: count orphaned child rows per relationship. It is
// read-only and safe to run against live traffic at any time; two runs with
// no data change produce identical relationship rows.
//
// Any nonzero orphan count blocks the pipeline. Orphan cleanup is an
// explicit, human-reviewed prerequisite — the pipeline never deletes or
// nulls orphaned rows itself.
func (p *Pipeline) Validate(ctx context.Context) (*Report, error) {
	report := newReport("validate", p.model.Version())
	defer report.finish()

	var blocker *PipelineError
	for _, rel := range p.model.Relationships() {
		// Relationships awaiting reconciliation have no resolved column yet;
		// stage 2 creates it and re-validates.
		if rel.NeedsReconcile() {
			exists, err := p.columnExists(ctx, rel.ChildTable, rel.ChildColumn)
			if err != nil {
				return report, err
			}
			if !exists {
				report.add(RelationshipReport{
					Relationship: rel.Name,
					Status:       StatusPendingReconcile,
					Detail:       "resolved column not yet created",
				})
				continue
			}
		}

		count, err := p.orphanCount(ctx, rel)
		if err != nil {
			return report, err
		}

		row := RelationshipReport{Relationship: rel.Name, OrphanCount: count, Status: StatusOK}
		if count > 0 {
			row.Status = StatusBlocked
			if blocker == nil {
				blocker = &PipelineError{
					Category:     CategoryOrphans,
					Relationship: rel.Name,
					Rows:         count,
				}
			}
		}
		report.add(row)

		p.log.WithFields(logrus.Fields{
			"relationship": rel.Name,
			"orphans":      count,
		}).Debug("validated relationship")
	}

	var err error
	if blocker != nil {
		err = blocker
	}
	p.recordStage(ctx, audit.EventTypeMigrationStage, "validate", err)
	return report, err
}

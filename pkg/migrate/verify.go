package migrate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gatehouse-dev/gatehouse/pkg/audit"
)

// Verify is stage 5: re-read the store's constraint catalog and assert it
// matches the model exactly. Every declared foreign key and uniqueness
// constraint must be installed, and no pipeline-managed constraint may exist
// that the model does not declare. Only constraints carrying the pipeline's
// name prefixes are considered; pre-existing constraints are out of scope.
func (p *Pipeline) Verify(ctx context.Context) (*Report, error) {
	report := newReport("verify", p.model.Version())
	defer report.finish()

	installed, err := p.managedConstraints(ctx)
	if err != nil {
		return report, err
	}

	expected := make(map[string]string) // constraint name -> relationship name
	var blocker *PipelineError
	for _, rel := range p.model.Relationships() {
		expected[rel.ConstraintName()] = rel.Name
		if rel.Unique != nil {
			expected[rel.Unique.Name] = rel.Name
		}

		row := RelationshipReport{Relationship: rel.Name, Status: StatusOK}
		var missing []string
		if !installed[rel.ConstraintName()] {
			missing = append(missing, rel.ConstraintName())
		}
		if rel.Unique != nil && !installed[rel.Unique.Name] {
			missing = append(missing, rel.Unique.Name)
		}
		if len(missing) > 0 {
			row.Status = StatusBlocked
			row.Detail = "missing constraints: " + strings.Join(missing, ", ")
			if blocker == nil {
				blocker = &PipelineError{
					Category:     CategoryVerifyMismatch,
					Relationship: rel.Name,
					Err:          fmt.Errorf("missing constraints: %s", strings.Join(missing, ", ")),
				}
			}
		}
		report.add(row)
	}

	// Managed constraints the model does not declare are also a mismatch:
	// a stale constraint left behind by an older model revision must be
	// surfaced, not silently tolerated.
	var undeclared []string
	for name := range installed {
		if _, ok := expected[name]; !ok {
			undeclared = append(undeclared, name)
		}
	}
	sort.Strings(undeclared)
	if len(undeclared) > 0 && blocker == nil {
		blocker = &PipelineError{
			Category: CategoryVerifyMismatch,
			Err:      fmt.Errorf("undeclared managed constraints: %s", strings.Join(undeclared, ", ")),
		}
	}

	var stageErr error
	if blocker != nil {
		stageErr = blocker
	}
	p.recordStage(ctx, audit.EventTypeMigrationStage, "verify", stageErr)
	return report, stageErr
}

// managedConstraints lists installed constraints carrying the pipeline's
// name prefixes
func (p *Pipeline) managedConstraints(ctx context.Context) (map[string]bool, error) {
	query := `
		SELECT constraint_name FROM information_schema.table_constraints
		WHERE constraint_name LIKE 'gh\_fk\_%' OR constraint_name LIKE 'gh\_uq\_%'`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read constraint catalog: %w", err)
	}
	defer rows.Close()

	installed := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan constraint name: %w", err)
		}
		installed[name] = true
	}
	return installed, rows.Err()
}

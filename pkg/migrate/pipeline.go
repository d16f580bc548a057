package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gatehouse-dev/gatehouse/pkg/audit"
	"github.com/gatehouse-dev/gatehouse/pkg/relmodel"
)

// DefaultLockTimeout bounds how long a constraint-install statement may wait
// on a table lock before aborting. Stages 2-4 take brief table-scoped locks;
// the timeout keeps a busy table from stalling the maintenance window.
const DefaultLockTimeout = 5 * time.Second

// Pipeline runs the five-stage constraint migration against a live store.
// It is a single-writer, administrator-invoked process: stages run strictly
// in order, one relationship at a time, and any blocker halts the run with
// the exact relationship and row count that caused it.
type Pipeline struct {
	db          *sql.DB
	model       *relmodel.Model
	log         *logrus.Logger
	auditLog    *audit.DBLogger
	lockTimeout time.Duration
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLockTimeout overrides the per-statement lock timeout for stages 2-4
func WithLockTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.lockTimeout = d
		}
	}
}

// WithAuditLogger records a migration.stage audit event per completed or
// failed stage
func WithAuditLogger(l *audit.DBLogger) Option {
	return func(p *Pipeline) { p.auditLog = l }
}

// NewPipeline creates a pipeline bound to a store and a relationship model
func NewPipeline(db *sql.DB, model *relmodel.Model, log *logrus.Logger, opts ...Option) (*Pipeline, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if model == nil {
		return nil, fmt.Errorf("relationship model is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	p := &Pipeline{
		db:          db,
		model:       model,
		log:         log,
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run executes all five stages in order, halting at the first blocker.
// Each stage's report is returned even on failure so the operator sees how
// far the run got.
func (p *Pipeline) Run(ctx context.Context) ([]*Report, error) {
	var reports []*Report

	stages := []struct {
		name string
		fn   func(context.Context) (*Report, error)
	}{
		{"validate", p.Validate},
		{"reconcile", p.Reconcile},
		{"dedupe", p.Dedupe},
		{"install", p.Install},
		{"verify", p.Verify},
	}

	for _, stage := range stages {
		report, err := stage.fn(ctx)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// recordStage writes a migration audit event; audit failures are logged but
// never mask the stage outcome.
func (p *Pipeline) recordStage(ctx context.Context, eventType audit.EventType, stage string, stageErr error) {
	if p.auditLog == nil {
		return
	}

	status := audit.EventStatusSuccess
	message := fmt.Sprintf("stage %s completed", stage)
	if stageErr != nil {
		status = audit.EventStatusFailure
		message = fmt.Sprintf("stage %s failed: %v", stage, stageErr)
	}

	record := &audit.Record{
		EventType: eventType,
		Status:    status,
		Message:   message,
	}
	if err := p.auditLog.Log(ctx, record); err != nil {
		p.log.WithError(err).Warn("failed to write migration audit record")
	}
}

// orphanCount counts child rows whose reference value has no matching parent.
// NULL references are not orphans; set-null and unreconciled rows are legal.
func (p *Pipeline) orphanCount(ctx context.Context, rel relmodel.Relationship) (int64, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s c
		LEFT JOIN %s p ON c.%s = p.%s
		WHERE c.%s IS NOT NULL AND p.%s IS NULL`,
		rel.ChildTable, rel.ParentTable,
		rel.ChildColumn, rel.ParentColumn,
		rel.ChildColumn, rel.ParentColumn,
	)
	var count int64
	if err := p.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count orphans for %s: %w", rel.Name, err)
	}
	return count, nil
}

// columnExists checks the catalog for a column on a table
func (p *Pipeline) columnExists(ctx context.Context, table, column string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM information_schema.columns
		WHERE table_name = $1 AND column_name = $2`
	var count int64
	if err := p.db.QueryRowContext(ctx, query, table, column).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check column %s.%s: %w", table, column, err)
	}
	return count > 0, nil
}

// constraintExists checks the catalog for a named constraint on a table
func (p *Pipeline) constraintExists(ctx context.Context, table, name string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM information_schema.table_constraints
		WHERE table_name = $1 AND constraint_name = $2`
	var count int64
	if err := p.db.QueryRowContext(ctx, query, table, name).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check constraint %s on %s: %w", name, table, err)
	}
	return count > 0, nil
}

// execLocked runs one DDL statement in its own transaction with a statement
// lock timeout, so a busy table aborts this step instead of queueing behind
// live traffic indefinitely.
func (p *Pipeline) execLocked(ctx context.Context, statement string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", p.lockTimeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, timeout); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	if _, err := tx.ExecContext(ctx, statement); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

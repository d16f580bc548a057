package migrate

import (
	"context"
	"io"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-dev/gatehouse/pkg/relmodel"
)

func testModel(t *testing.T) *relmodel.Model {
	t.Helper()

	model, err := relmodel.New("test", []relmodel.Relationship{
		{
			Name:       "note_owner",
			ChildTable: "notes", ChildColumn: "owner_id",
			ParentTable: "principals", ParentColumn: "id",
			Policy: relmodel.PolicyCascade,
		},
		{
			Name:       "note_org",
			ChildTable: "notes", ChildColumn: "org_id",
			ParentTable: "organizations", ParentColumn: "id",
			Policy:    relmodel.PolicyCascade,
			DependsOn: []string{"note_owner"},
			Unique:    &relmodel.UniqueSpec{Name: "gh_uq_notes_org_slug", Columns: []string{"org_id", "slug"}},
		},
	})
	require.NoError(t, err)
	return model
}

func testPipeline(t *testing.T, model *relmodel.Model, opts ...Option) (*Pipeline, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	pipeline, err := NewPipeline(db, model, log, opts...)
	require.NoError(t, err)
	return pipeline, mock
}

func countRow(n int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func expectLockedExec(mock sqlmock.Sqlmock, statementPattern string) {
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(statementPattern).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
}

func TestValidateCleanStore(t *testing.T) {
	pipeline, mock := testPipeline(t, testModel(t))

	mock.ExpectQuery(`LEFT JOIN principals`).WillReturnRows(countRow(0))
	mock.ExpectQuery(`LEFT JOIN organizations`).WillReturnRows(countRow(0))

	report, err := pipeline.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Relationships, 2)
	assert.Equal(t, StatusOK, report.Relationships[0].Status)
	assert.Equal(t, StatusOK, report.Relationships[1].Status)
	assert.False(t, report.Blocked())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateOrphansBlock(t *testing.T) {
	pipeline, mock := testPipeline(t, testModel(t))

	mock.ExpectQuery(`LEFT JOIN principals`).WillReturnRows(countRow(3))
	mock.ExpectQuery(`LEFT JOIN organizations`).WillReturnRows(countRow(0))

	report, err := pipeline.Validate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrphanedReferenceFound)
	assert.Equal(t, 10, ExitCode(err))

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "note_owner", pe.Relationship)
	assert.Equal(t, int64(3), pe.Rows)

	// The report still covers every relationship so the operator sees the
	// full picture, not just the first blocker.
	require.Len(t, report.Relationships, 2)
	assert.Equal(t, StatusBlocked, report.Relationships[0].Status)
	assert.Equal(t, int64(3), report.Relationships[0].OrphanCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidatePendingReconcile(t *testing.T) {
	model, err := relmodel.New("test", []relmodel.Relationship{
		{
			Name:       "upload_credit",
			ChildTable: "uploaded_artifacts", ChildColumn: "uploader_id",
			ParentTable: "principals", ParentColumn: "id",
			Policy:       relmodel.PolicyRestrict,
			LegacyColumn: "uploader_name", CorrelateBy: "username",
		},
	})
	require.NoError(t, err)
	pipeline, mock := testPipeline(t, model)

	mock.ExpectQuery(`information_schema.columns`).
		WithArgs("uploaded_artifacts", "uploader_id").
		WillReturnRows(countRow(0))

	report, err := pipeline.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Relationships, 1)
	assert.Equal(t, StatusPendingReconcile, report.Relationships[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileResolvesLegacyKeys(t *testing.T) {
	model, err := relmodel.New("test", []relmodel.Relationship{
		{
			Name:       "upload_credit",
			ChildTable: "uploaded_artifacts", ChildColumn: "uploader_id",
			ParentTable: "principals", ParentColumn: "id",
			Policy:       relmodel.PolicyRestrict,
			LegacyColumn: "uploader_name", CorrelateBy: "username",
		},
	})
	require.NoError(t, err)

	t.Run("fully resolved", func(t *testing.T) {
		pipeline, mock := testPipeline(t, model)

		expectLockedExec(mock, `ADD COLUMN IF NOT EXISTS uploader_id`)
		mock.ExpectExec(`UPDATE uploaded_artifacts`).WillReturnResult(sqlmock.NewResult(0, 5))
		mock.ExpectQuery(`uploader_name IS NOT NULL AND uploader_id IS NULL`).WillReturnRows(countRow(0))

		report, err := pipeline.Reconcile(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StatusReconciled, report.Relationships[0].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unresolved rows block", func(t *testing.T) {
		pipeline, mock := testPipeline(t, model)

		expectLockedExec(mock, `ADD COLUMN IF NOT EXISTS uploader_id`)
		mock.ExpectExec(`UPDATE uploaded_artifacts`).WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectQuery(`uploader_name IS NOT NULL AND uploader_id IS NULL`).WillReturnRows(countRow(2))

		report, err := pipeline.Reconcile(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTypeMismatchUnresolved)
		assert.Equal(t, 11, ExitCode(err))
		assert.Equal(t, StatusBlocked, report.Relationships[0].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDedupe(t *testing.T) {
	t.Run("duplicates block", func(t *testing.T) {
		pipeline, mock := testPipeline(t, testModel(t))

		mock.ExpectQuery(`GROUP BY org_id, slug HAVING`).WillReturnRows(countRow(2))

		report, err := pipeline.Dedupe(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateKeyFound)
		assert.Equal(t, 12, ExitCode(err))

		var pe *PipelineError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "note_org", pe.Relationship)
		assert.Equal(t, int64(2), pe.Rows)

		// note_owner declares no uniqueness constraint
		assert.Equal(t, StatusSkipped, report.Relationships[0].Status)
		assert.Equal(t, StatusBlocked, report.Relationships[1].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("clean installs unique constraint", func(t *testing.T) {
		pipeline, mock := testPipeline(t, testModel(t))

		mock.ExpectQuery(`GROUP BY org_id, slug HAVING`).WillReturnRows(countRow(0))
		mock.ExpectQuery(`information_schema.table_constraints`).
			WithArgs("notes", "gh_uq_notes_org_slug").
			WillReturnRows(countRow(0))
		expectLockedExec(mock, `ADD CONSTRAINT gh_uq_notes_org_slug UNIQUE`)

		report, err := pipeline.Dedupe(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StatusInstalled, report.Relationships[1].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		pipeline, mock := testPipeline(t, testModel(t))

		mock.ExpectQuery(`GROUP BY org_id, slug HAVING`).WillReturnRows(countRow(0))
		mock.ExpectQuery(`information_schema.table_constraints`).
			WithArgs("notes", "gh_uq_notes_org_slug").
			WillReturnRows(countRow(1))

		report, err := pipeline.Dedupe(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StatusAlreadyInstalled, report.Relationships[1].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInstallRefusesWhileOrphansExist(t *testing.T) {
	pipeline, mock := testPipeline(t, testModel(t))

	mock.ExpectQuery(`LEFT JOIN principals`).WillReturnRows(countRow(4))
	mock.ExpectQuery(`LEFT JOIN organizations`).WillReturnRows(countRow(0))

	_, err := pipeline.Install(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrphanedReferenceFound)
	assert.Equal(t, 10, ExitCode(err))

	// No ALTER TABLE was ever attempted
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstallInDependencyOrder(t *testing.T) {
	pipeline, mock := testPipeline(t, testModel(t))

	// Pre-install validation
	mock.ExpectQuery(`LEFT JOIN principals`).WillReturnRows(countRow(0))
	mock.ExpectQuery(`LEFT JOIN organizations`).WillReturnRows(countRow(0))

	// note_owner installs before note_org, which depends on it
	mock.ExpectQuery(`information_schema.table_constraints`).
		WithArgs("notes", "gh_fk_note_owner").
		WillReturnRows(countRow(0))
	expectLockedExec(mock, `ADD CONSTRAINT gh_fk_note_owner FOREIGN KEY \(owner_id\) REFERENCES principals \(id\) ON DELETE CASCADE`)

	mock.ExpectQuery(`information_schema.table_constraints`).
		WithArgs("notes", "gh_fk_note_org").
		WillReturnRows(countRow(0))
	expectLockedExec(mock, `ADD CONSTRAINT gh_fk_note_org FOREIGN KEY \(org_id\) REFERENCES organizations \(id\) ON DELETE CASCADE`)

	report, err := pipeline.Install(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "note_owner", report.Relationships[0].Relationship)
	assert.Equal(t, StatusInstalled, report.Relationships[0].Status)
	assert.Equal(t, "note_org", report.Relationships[1].Relationship)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstallHaltsOnFirstFailure(t *testing.T) {
	pipeline, mock := testPipeline(t, testModel(t))

	mock.ExpectQuery(`LEFT JOIN principals`).WillReturnRows(countRow(0))
	mock.ExpectQuery(`LEFT JOIN organizations`).WillReturnRows(countRow(0))

	mock.ExpectQuery(`information_schema.table_constraints`).
		WithArgs("notes", "gh_fk_note_owner").
		WillReturnRows(countRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ADD CONSTRAINT gh_fk_note_owner`).
		WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	report, err := pipeline.Install(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, 13, ExitCode(err))

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "note_owner", pe.Relationship)

	// note_org was never attempted
	require.Len(t, report.Relationships, 1)
	assert.Equal(t, StatusFailed, report.Relationships[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassifyInstallError(t *testing.T) {
	pipeline, _ := testPipeline(t, testModel(t))

	lockErr := pipeline.classifyInstallError("note_owner", &pq.Error{Code: "55P03"})
	assert.ErrorIs(t, lockErr, ErrLockTimeout)
	assert.Equal(t, 13, ExitCode(lockErr))

	otherErr := pipeline.classifyInstallError("note_owner", assert.AnError)
	assert.ErrorIs(t, otherErr, ErrInstallFailed)
	assert.Equal(t, 14, ExitCode(otherErr))
}

func TestVerify(t *testing.T) {
	t.Run("catalog matches model", func(t *testing.T) {
		pipeline, mock := testPipeline(t, testModel(t))

		mock.ExpectQuery(`information_schema.table_constraints`).WillReturnRows(
			sqlmock.NewRows([]string{"constraint_name"}).
				AddRow("gh_fk_note_owner").
				AddRow("gh_fk_note_org").
				AddRow("gh_uq_notes_org_slug"))

		report, err := pipeline.Verify(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StatusOK, report.Relationships[0].Status)
		assert.Equal(t, StatusOK, report.Relationships[1].Status)
	})

	t.Run("missing constraint", func(t *testing.T) {
		pipeline, mock := testPipeline(t, testModel(t))

		mock.ExpectQuery(`information_schema.table_constraints`).WillReturnRows(
			sqlmock.NewRows([]string{"constraint_name"}).
				AddRow("gh_fk_note_owner"))

		report, err := pipeline.Verify(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrVerifyMismatch)
		assert.Equal(t, 15, ExitCode(err))
		assert.Equal(t, StatusBlocked, report.Relationships[1].Status)
		assert.Contains(t, report.Relationships[1].Detail, "gh_fk_note_org")
	})

	t.Run("undeclared managed constraint", func(t *testing.T) {
		pipeline, mock := testPipeline(t, testModel(t))

		mock.ExpectQuery(`information_schema.table_constraints`).WillReturnRows(
			sqlmock.NewRows([]string{"constraint_name"}).
				AddRow("gh_fk_note_owner").
				AddRow("gh_fk_note_org").
				AddRow("gh_uq_notes_org_slug").
				AddRow("gh_fk_left_behind"))

		_, err := pipeline.Verify(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrVerifyMismatch)
		assert.Contains(t, err.Error(), "gh_fk_left_behind")
	})
}

func TestRollbackReverseOrder(t *testing.T) {
	pipeline, mock := testPipeline(t, testModel(t))

	// note_org (dependent) drops first, then its unique constraint, then note_owner
	expectLockedExec(mock, `DROP CONSTRAINT IF EXISTS gh_fk_note_org`)
	expectLockedExec(mock, `DROP CONSTRAINT IF EXISTS gh_uq_notes_org_slug`)
	expectLockedExec(mock, `DROP CONSTRAINT IF EXISTS gh_fk_note_owner`)

	report, err := pipeline.Rollback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "note_org", report.Relationships[0].Relationship)
	assert.Equal(t, "note_owner", report.Relationships[1].Relationship)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackIncomplete(t *testing.T) {
	pipeline, mock := testPipeline(t, testModel(t))

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP CONSTRAINT IF EXISTS gh_fk_note_org`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := pipeline.Rollback(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRollbackIncomplete)
	assert.Equal(t, 16, ExitCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPipelineValidation(t *testing.T) {
	_, err := NewPipeline(nil, nil, nil)
	assert.Error(t, err)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewPipeline(db, nil, nil)
	assert.Error(t, err)
}

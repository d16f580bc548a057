package migrate

import (
	"errors"
	"fmt"
)

// Category classifies a pipeline failure. Each category maps to a distinct
// process exit code so calling automation can branch on the failure kind.
type Category string

const (
	CategoryOrphans            Category = "orphans_found"
	CategoryTypeMismatch       Category = "type_mismatch_unresolved"
	CategoryDuplicates         Category = "duplicates_found"
	CategoryLockTimeout        Category = "lock_timeout"
	CategoryInstallFailed      Category = "install_failed"
	CategoryVerifyMismatch     Category = "verify_mismatch"
	CategoryRollbackIncomplete Category = "rollback_incomplete"
)

// Sentinel errors per failure category, matchable with errors.Is
var (
	ErrOrphanedReferenceFound = errors.New("orphaned references found")
	ErrTypeMismatchUnresolved = errors.New("type mismatch unresolved")
	ErrDuplicateKeyFound      = errors.New("duplicate keys found")
	ErrLockTimeout            = errors.New("lock timeout")
	ErrInstallFailed          = errors.New("constraint install failed")
	ErrVerifyMismatch         = errors.New("constraint catalog does not match model")
	ErrRollbackIncomplete     = errors.New("rollback incomplete")
)

var categorySentinels = map[Category]error{
	CategoryOrphans:            ErrOrphanedReferenceFound,
	CategoryTypeMismatch:       ErrTypeMismatchUnresolved,
	CategoryDuplicates:         ErrDuplicateKeyFound,
	CategoryLockTimeout:        ErrLockTimeout,
	CategoryInstallFailed:      ErrInstallFailed,
	CategoryVerifyMismatch:     ErrVerifyMismatch,
	CategoryRollbackIncomplete: ErrRollbackIncomplete,
}

var categoryExitCodes = map[Category]int{
	CategoryOrphans:            10,
	CategoryTypeMismatch:       11,
	CategoryDuplicates:         12,
	CategoryLockTimeout:        13,
	CategoryInstallFailed:      14,
	CategoryVerifyMismatch:     15,
	CategoryRollbackIncomplete: 16,
}

// PipelineError is an operator-facing blocker: it names the relationship that
// halted the pipeline and, where applicable, the number of offending rows.
// Blockers are never auto-resolved destructively; remediation and re-run are
// explicit operator actions.
type PipelineError struct {
	Category     Category
	Relationship string
	Rows         int64
	Err          error
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("%s: relationship %q", e.Category, e.Relationship)
	if e.Rows > 0 {
		msg += fmt.Sprintf(" (%d rows)", e.Rows)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	if sentinel, ok := categorySentinels[e.Category]; ok {
		return sentinel
	}
	return e.Err
}

// ExitCode maps an error to the pipeline's process exit code: 0 for nil,
// a distinct code per failure category, 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		if code, ok := categoryExitCodes[pe.Category]; ok {
			return code
		}
	}
	return 1
}

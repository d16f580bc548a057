package migrate

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

// Relationship status values used in reports
const (
	StatusOK               = "ok"
	StatusBlocked          = "blocked"
	StatusPendingReconcile = "pending_reconcile"
	StatusReconciled       = "reconciled"
	StatusInstalled        = "installed"
	StatusAlreadyInstalled = "already_installed"
	StatusSkipped          = "skipped"
	StatusFailed           = "failed"
	StatusDropped          = "dropped"
)

// RelationshipReport is one row of a stage report
type RelationshipReport struct {
	Relationship   string `json:"relationship"`
	OrphanCount    int64  `json:"orphanCount"`
	DuplicateCount int64  `json:"duplicateCount,omitempty"`
	Status         string `json:"status"`
	Detail         string `json:"detail,omitempty"`
}

// Report is the machine-readable record of one pipeline stage run. It is both
// the human gate before constraint installation and a persisted audit artifact.
type Report struct {
	RunID         string               `json:"runId"`
	Stage         string               `json:"stage"`
	ModelVersion  string               `json:"modelVersion"`
	StartedAt     time.Time            `json:"startedAt"`
	FinishedAt    time.Time            `json:"finishedAt"`
	Relationships []RelationshipReport `json:"relationships"`
}

func newReport(stage, modelVersion string) *Report {
	return &Report{
		RunID:        uuid.NewString(),
		Stage:        stage,
		ModelVersion: modelVersion,
		StartedAt:    time.Now().UTC(),
	}
}

func (r *Report) add(rel RelationshipReport) {
	r.Relationships = append(r.Relationships, rel)
}

func (r *Report) finish() {
	r.FinishedAt = time.Now().UTC()
}

// Blocked reports whether any relationship in the report carries a blocking status
func (r *Report) Blocked() bool {
	for _, rel := range r.Relationships {
		if rel.Status == StatusBlocked || rel.Status == StatusFailed {
			return true
		}
	}
	return false
}

// WriteJSON writes the report as indented JSON
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// SaveFile persists the report to the given path
func (r *Report) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()
	return r.WriteJSON(f)
}

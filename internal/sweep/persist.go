package sweep

import (
	"fmt"
	"time"
)

// RunInfo describes a run when it starts.
type RunInfo struct {
	ID           string
	Study        string
	SubStudies   []string
	TotalConfigs int
	Workers      int
	BatchSize    int
	Patience     int
	Resume       bool
	StartedAt    time.Time
}

// Progress counts one sub-study. It is reported after every committed batch.
type Progress struct {
	SubStudy         string
	Completed        int
	Total            int
	Batches          int
	CheckpointWrites int
}

// Persister records the life cycle of runs. Failures are logged and kept as
// warnings; they never abort a run.
type Persister interface {
	SaveRunStart(run RunInfo) error
	SaveRunProgress(runID string, p Progress) error
	SaveRunComplete(runID string, status Status, completedAt time.Time, errMsg string) error
}

// EvaluationError wraps a failure of the evaluation function. It names the
// sub-study and batch that failed; checkpoints written before that batch
// stay valid.
type EvaluationError struct {
	SubStudy string
	Batch    int
	Index    int
	Hash     string
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("sub-study %q batch %d: config %d (%s): %v", e.SubStudy, e.Batch, e.Index, e.Hash, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

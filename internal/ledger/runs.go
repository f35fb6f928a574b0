package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/paramsweep/internal/sweep"
	"github.com/banshee-data/paramsweep/internal/version"
)

var _ sweep.Persister = (*Store)(nil)

// RunRecord is one row of the ledger with its per-sub-study progress.
type RunRecord struct {
	RunID        string           `json:"run_id"`
	Study        string           `json:"study"`
	SubStudies   []string         `json:"sub_studies"`
	Status       sweep.Status     `json:"status"`
	TotalConfigs int              `json:"total_configs"`
	Workers      int              `json:"workers"`
	BatchSize    int              `json:"batch_size"`
	Patience     int              `json:"patience"`
	Resume       bool             `json:"resume"`
	Producer     string           `json:"producer,omitempty"`
	Error        string           `json:"error,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	Progress     []sweep.Progress `json:"progress,omitempty"`
}

// Completed sums the completed configs over every sub-study.
func (r *RunRecord) Completed() int {
	n := 0
	for _, p := range r.Progress {
		n += p.Completed
	}
	return n
}

// SaveRunStart inserts a running run.
func (s *Store) SaveRunStart(run sweep.RunInfo) error {
	subs, err := json.Marshal(run.SubStudies)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO runs (
			run_id, study, sub_studies, status, total_configs, workers,
			batch_size, patience, resume, producer, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = s.retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			run.ID,
			run.Study,
			string(subs),
			string(sweep.StatusRunning),
			run.TotalConfigs,
			run.Workers,
			run.BatchSize,
			run.Patience,
			run.Resume,
			nullStr(version.Producer()),
			formatTime(run.StartedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// SaveRunProgress upserts the progress row of one sub-study.
func (s *Store) SaveRunProgress(runID string, p sweep.Progress) error {
	query := `
		INSERT INTO run_progress (
			run_id, sub_study, completed, total, batches, checkpoint_writes, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, sub_study) DO UPDATE SET
			completed = excluded.completed,
			total = excluded.total,
			batches = excluded.batches,
			checkpoint_writes = excluded.checkpoint_writes,
			updated_at = excluded.updated_at
	`
	err := s.retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			runID, p.SubStudy, p.Completed, p.Total, p.Batches, p.CheckpointWrites,
			formatTime(s.clock.Now()),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("saving progress for run %s: %w", runID, err)
	}
	return nil
}

// SaveRunComplete records the final status of a run.
func (s *Store) SaveRunComplete(runID string, status sweep.Status, completedAt time.Time, errMsg string) error {
	query := `UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE run_id = ?`
	var n int64
	err := s.retryOnBusy(func() error {
		res, err := s.db.Exec(query, string(status), nullStr(errMsg), formatTime(completedAt), runID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("completing run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("completing run %s: no such run", runID)
	}
	return nil
}

const runColumns = `
	run_id, study, sub_studies, status, total_configs, workers, batch_size,
	patience, resume, producer, error, started_at, completed_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var rec RunRecord
	var subs, status string
	var producer, errMsg, completedAt sql.NullString
	var startedAt string
	if err := row.Scan(
		&rec.RunID, &rec.Study, &subs, &status, &rec.TotalConfigs, &rec.Workers, &rec.BatchSize,
		&rec.Patience, &rec.Resume, &producer, &errMsg, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = sweep.Status(status)
	if err := json.Unmarshal([]byte(subs), &rec.SubStudies); err != nil {
		return nil, fmt.Errorf("parsing sub_studies for run %s: %w", rec.RunID, err)
	}
	if producer.Valid {
		rec.Producer = producer.String
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	t, err := time.Parse(timeFormat, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at for run %s: %w", rec.RunID, err)
	}
	rec.StartedAt = t
	if completedAt.Valid {
		t, err := time.Parse(timeFormat, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at for run %s: %w", rec.RunID, err)
		}
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// GetRun returns one run with its progress, or nil if it does not exist.
func (s *Store) GetRun(runID string) (*RunRecord, error) {
	rec, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	if rec.Progress, err = s.progress(runID); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRuns returns the most recent runs of a study, newest first. An empty
// study lists every study. Progress rows are not loaded.
func (s *Store) ListRuns(study string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE (? = '' OR study = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`
	rows, err := s.db.Query(query, study, study, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

// LatestRun returns the newest run of study that reported progress for
// subStudy, or nil if there is none.
func (s *Store) LatestRun(study, subStudy string) (*RunRecord, error) {
	query := `
		SELECT r.run_id FROM runs r
		JOIN run_progress p ON p.run_id = r.run_id
		WHERE r.study = ? AND p.sub_study = ?
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT 1
	`
	var runID string
	err := s.db.QueryRow(query, study, subStudy).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest run of %s/%s: %w", study, subStudy, err)
	}
	return s.GetRun(runID)
}

// DeleteRun removes a run and its progress rows.
func (s *Store) DeleteRun(runID string) error {
	return s.retryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
		return err
	})
}

func (s *Store) progress(runID string) ([]sweep.Progress, error) {
	rows, err := s.db.Query(`
		SELECT sub_study, completed, total, batches, checkpoint_writes
		FROM run_progress WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying progress of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []sweep.Progress
	for rows.Next() {
		var p sweep.Progress
		if err := rows.Scan(&p.SubStudy, &p.Completed, &p.Total, &p.Batches, &p.CheckpointWrites); err != nil {
			return nil, fmt.Errorf("scanning progress row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// timeFormat keeps a fixed width so stored times sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/grid"
	"github.com/banshee-data/paramsweep/internal/monitoring"
	"github.com/banshee-data/paramsweep/internal/sweep"
	"github.com/banshee-data/paramsweep/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	monitoring.SetLogger(nil)
}

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func startRun(t *testing.T, s *Store, id, study string, at time.Time) {
	t.Helper()
	require.NoError(t, s.SaveRunStart(sweep.RunInfo{
		ID:           id,
		Study:        study,
		SubStudies:   []string{"a", "b"},
		TotalConfigs: 12,
		Workers:      4,
		BatchSize:    8,
		Patience:     2,
		Resume:       true,
		StartedAt:    at,
	}))
}

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	require.NoError(t, err)
	v, dirty, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)
	startRun(t, s, "r1", "study", t0)
	require.NoError(t, s.Close())

	// Reopening keeps the data and applies nothing new.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.GetRun("r1")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestRunLifecycle(t *testing.T) {
	s := openTest(t)
	clock := timeutil.NewMockClock(t0)
	s.clock = clock

	startRun(t, s, "r1", "study", t0)

	rec, err := s.GetRun("r1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, sweep.StatusRunning, rec.Status)
	assert.Equal(t, []string{"a", "b"}, rec.SubStudies)
	assert.Equal(t, 12, rec.TotalConfigs)
	assert.True(t, rec.Resume)
	assert.True(t, rec.StartedAt.Equal(t0))
	assert.Nil(t, rec.CompletedAt)
	assert.Contains(t, rec.Producer, "paramsweep")
	assert.Empty(t, rec.Progress)

	require.NoError(t, s.SaveRunProgress("r1", sweep.Progress{SubStudy: "a", Completed: 2, Total: 6, Batches: 1}))
	require.NoError(t, s.SaveRunProgress("r1", sweep.Progress{SubStudy: "a", Completed: 6, Total: 6, Batches: 2, CheckpointWrites: 1}))
	require.NoError(t, s.SaveRunProgress("r1", sweep.Progress{SubStudy: "b", Completed: 3, Total: 6, Batches: 1}))

	done := t0.Add(90 * time.Second)
	require.NoError(t, s.SaveRunComplete("r1", sweep.StatusError, done, "sub-study b failed"))

	rec, err = s.GetRun("r1")
	require.NoError(t, err)
	assert.Equal(t, sweep.StatusError, rec.Status)
	assert.Equal(t, "sub-study b failed", rec.Error)
	require.NotNil(t, rec.CompletedAt)
	assert.True(t, rec.CompletedAt.Equal(done))
	assert.Equal(t, []sweep.Progress{
		{SubStudy: "a", Completed: 6, Total: 6, Batches: 2, CheckpointWrites: 1},
		{SubStudy: "b", Completed: 3, Total: 6, Batches: 1},
	}, rec.Progress)
	assert.Equal(t, 9, rec.Completed())

	require.NoError(t, s.DeleteRun("r1"))
	rec, err = s.GetRun("r1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	latest, err := s.LatestRun("study", "a")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSaveRunComplete_UnknownRun(t *testing.T) {
	s := openTest(t)
	assert.Error(t, s.SaveRunComplete("nope", sweep.StatusComplete, t0, ""))
}

func TestListRuns(t *testing.T) {
	s := openTest(t)
	startRun(t, s, "old", "study", t0)
	startRun(t, s, "new", "study", t0.Add(time.Hour))
	startRun(t, s, "mid", "study", t0.Add(500*time.Millisecond))
	startRun(t, s, "other", "elsewhere", t0.Add(2*time.Hour))

	runs, err := s.ListRuns("study", 0)
	require.NoError(t, err)
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.RunID
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)

	runs, err = s.ListRuns("", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "other", runs[0].RunID)

	runs, err = s.ListRuns("missing", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLatestRun(t *testing.T) {
	s := openTest(t)
	startRun(t, s, "r1", "study", t0)
	startRun(t, s, "r2", "study", t0.Add(time.Minute))
	require.NoError(t, s.SaveRunProgress("r1", sweep.Progress{SubStudy: "a", Completed: 1, Total: 6}))
	require.NoError(t, s.SaveRunProgress("r1", sweep.Progress{SubStudy: "b", Completed: 1, Total: 6}))
	require.NoError(t, s.SaveRunProgress("r2", sweep.Progress{SubStudy: "a", Completed: 4, Total: 6}))

	rec, err := s.LatestRun("study", "a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "r2", rec.RunID)

	// r2 never reached b.
	rec, err = s.LatestRun("study", "b")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "r1", rec.RunID)

	rec, err = s.LatestRun("study", "c")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "database is locked", err: errors.New("database is locked (5) (SQLITE_BUSY)"), expected: true},
		{name: "SQLITE_BUSY", err: errors.New("SQLITE_BUSY"), expected: true},
		{name: "other error", err: errors.New("some other error"), expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteBusy(tt.err); got != tt.expected {
				t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	busy := errors.New("database is locked (5) (SQLITE_BUSY)")
	newStore := func() (*Store, *timeutil.MockClock) {
		clock := timeutil.NewMockClock(t0)
		return &Store{clock: clock, log: monitoring.WithComponent("ledger")}, clock
	}

	t.Run("success after retry", func(t *testing.T) {
		s, clock := newStore()
		calls := 0
		err := s.retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, clock.Sleeps())
	})

	t.Run("non-busy error fails immediately", func(t *testing.T) {
		s, clock := newStore()
		calls := 0
		testErr := errors.New("some other error")
		err := s.retryOnBusy(func() error {
			calls++
			return testErr
		})
		if err != testErr {
			t.Errorf("expected error %v, got %v", testErr, err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
		assert.Empty(t, clock.Sleeps())
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		s, clock := newStore()
		calls := 0
		err := s.retryOnBusy(func() error {
			calls++
			return busy
		})
		assert.ErrorIs(t, err, busy)
		if calls != maxBusyAttempts {
			t.Errorf("expected %d calls, got %d", maxBusyAttempts, calls)
		}
		assert.Equal(t, []time.Duration{
			10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond,
		}, clock.Sleeps())
	})
}

func TestStore_AsEnginePersister(t *testing.T) {
	s := openTest(t)

	a := config.New("a")
	a.MustInsert("x", []int{1, 2, 3})
	b := config.New("b")
	b.MustInsert("x", []int{4, 5})
	root := config.New("study")
	root.MustInsert(config.SubStudyKey, []*config.Node{a, b})

	eval := sweep.EvaluatorFunc(func(ctx context.Context, c *config.Concrete) (grid.Result, error) {
		x, err := c.Node.Float("x")
		return grid.Result{"x": x}, err
	})
	e, err := sweep.New(root, eval,
		sweep.WithWorkers(1),
		sweep.WithBatchSize(2),
		sweep.WithCheckpointDir(""),
		sweep.WithPersister(s),
		sweep.WithStudyName("study"),
	)
	require.NoError(t, err)
	require.NoError(t, e.Compute(context.Background(), false))

	runID := e.State().RunID
	rec, err := s.GetRun(runID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, sweep.StatusComplete, rec.Status)
	assert.Equal(t, "study", rec.Study)
	assert.Equal(t, []string{"a", "b"}, rec.SubStudies)
	assert.Equal(t, 5, rec.TotalConfigs)
	assert.Equal(t, 5, rec.Completed())
	require.NotNil(t, rec.CompletedAt)

	latest, err := s.LatestRun("study", "b")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, runID, latest.RunID)
}

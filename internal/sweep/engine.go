// Package sweep evaluates every concrete configuration of a study on a
// bounded worker pool, batch by batch, checkpointing as it goes so an
// interrupted run can resume.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/banshee-data/paramsweep/internal/checkpoint"
	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/grid"
	"github.com/banshee-data/paramsweep/internal/monitoring"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Status represents the current state of an engine run
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Evaluator computes the result of one concrete configuration. It must be a
// pure function of the config, including any seed it carries.
type Evaluator interface {
	Evaluate(ctx context.Context, c *config.Concrete) (grid.Result, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, c *config.Concrete) (grid.Result, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, c *config.Concrete) (grid.Result, error) {
	return f(ctx, c)
}

// State is a snapshot of engine progress.
type State struct {
	Status           Status     `json:"status"`
	RunID            string     `json:"run_id,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	TotalConfigs     int        `json:"total_configs"`
	CompletedConfigs int        `json:"completed_configs"`
	SubStudy         string     `json:"sub_study,omitempty"`
	Batches          int        `json:"batches"`
	CheckpointWrites int        `json:"checkpoint_writes"`
	Evaluations      int        `json:"evaluations"`
	Error            string     `json:"error,omitempty"`
	Warnings         []string   `json:"warnings,omitempty"`
}

// DefaultSubStudy names a root without a name of its own.
const DefaultSubStudy = "default"

// Engine drives the evaluation of a study.
type Engine struct {
	root *config.Node
	eval Evaluator
	opts options
	log  *logrus.Entry

	mu      sync.RWMutex
	state   State
	results map[string]*grid.Array
	order   []string

	memoMu sync.Mutex
	memo   map[string]grid.Result
	flight singleflight.Group
	cbMu   sync.Mutex
}

// New creates an engine over a private, locked copy of root.
func New(root *config.Node, eval Evaluator, opts ...Option) (*Engine, error) {
	if root == nil {
		return nil, errors.New("sweep: nil root node")
	}
	if eval == nil {
		return nil, errors.New("sweep: nil evaluator")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.batchSize == 0 {
		o.batchSize = o.workers
	}
	var errs error
	if o.workers < 1 {
		errs = multierror.Append(errs, fmt.Errorf("workers must be >= 1, got %d", o.workers))
	}
	if o.batchSize < 1 {
		errs = multierror.Append(errs, fmt.Errorf("batch size must be >= 1, got %d", o.batchSize))
	}
	if o.patience < 1 {
		errs = multierror.Append(errs, fmt.Errorf("patience must be >= 1, got %d", o.patience))
	}
	if errs != nil {
		return nil, errs
	}
	if o.store == nil {
		o.store = checkpoint.NewStore(nil)
	}
	if o.study == "" {
		o.study = root.Name()
	}
	log := o.logger
	if log == nil {
		log = monitoring.WithComponent("sweep")
	}

	r := root.Clone()
	r.Lock()
	return &Engine{
		root:  r,
		eval:  eval,
		opts:  o,
		log:   log.WithField("study", o.study),
		state: State{Status: StatusIdle},
	}, nil
}

// Root returns the locked study node.
func (e *Engine) Root() *config.Node { return e.root }

// State returns a copy of the current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.state
	s.Warnings = slices.Clone(e.state.Warnings)
	return s
}

// Results returns the arrays of every sub-study that has finished, keyed by
// sub-study name. A sub-study that failed holds the batches committed
// before the failure.
func (e *Engine) Results() map[string]*grid.Array {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*grid.Array, len(e.results))
	for k, v := range e.results {
		out[k] = v
	}
	return out
}

// SubStudies returns the computed sub-study names in run order.
func (e *Engine) SubStudies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.order)
}

// Result returns the array of one sub-study.
func (e *Engine) Result(subStudy string) (*grid.Array, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	arr, ok := e.results[subStudy]
	return arr, ok
}

func (e *Engine) addWarning(msg string) {
	e.mu.Lock()
	e.state.Warnings = append(e.state.Warnings, msg)
	e.mu.Unlock()
	e.log.Warn(msg)
}

func (e *Engine) update(f func(s *State)) {
	e.mu.Lock()
	f(&e.state)
	e.mu.Unlock()
}

type plan struct {
	name string
	seq  *config.Sequence
}

func subStudyName(n *config.Node) string {
	if n.Name() == "" {
		return DefaultSubStudy
	}
	return n.Name()
}

// Compute evaluates every sub-study in order. With resume set, each
// sub-study first loads its checkpoint and only uncomputed cells are
// dispatched. Callbacks are set up at the start of each sub-study, updated
// after every completed config and torn down at its end.
func (e *Engine) Compute(ctx context.Context, resume bool, callbacks ...Callback) error {
	e.mu.Lock()
	if e.state.Status == StatusRunning {
		e.mu.Unlock()
		return errors.New("sweep: compute already running")
	}
	now := e.opts.clock.Now()
	e.state = State{Status: StatusRunning, RunID: uuid.NewString(), StartedAt: &now}
	e.results = make(map[string]*grid.Array)
	e.order = nil
	e.mu.Unlock()

	e.memoMu.Lock()
	e.memo = make(map[string]grid.Result)
	e.memoMu.Unlock()

	err := e.compute(ctx, resume, callbacks)

	done := e.opts.clock.Now()
	status, msg := StatusComplete, ""
	if err != nil {
		status, msg = StatusError, err.Error()
	}
	e.update(func(s *State) {
		s.Status = status
		s.CompletedAt = &done
		s.Error = msg
		s.SubStudy = ""
	})
	if p := e.opts.persister; p != nil {
		if perr := p.SaveRunComplete(e.State().RunID, status, done, msg); perr != nil {
			e.addWarning(fmt.Sprintf("persist run completion: %v", perr))
		}
	}
	if err != nil {
		e.log.WithError(err).Error("sweep failed")
		return err
	}
	st := e.State()
	e.log.WithFields(logrus.Fields{
		"configs":     st.TotalConfigs,
		"evaluations": st.Evaluations,
		"elapsed":     done.Sub(now).String(),
	}).Info("sweep complete")
	return nil
}

func (e *Engine) compute(ctx context.Context, resume bool, callbacks []Callback) error {
	subs, err := config.SubStudies(e.root)
	if err != nil {
		return err
	}
	plans := make([]plan, 0, len(subs))
	total := 0
	for _, sub := range subs {
		seq, err := sub.Enumerate()
		if err != nil {
			return fmt.Errorf("sub-study %q: %w", subStudyName(sub), err)
		}
		plans = append(plans, plan{name: subStudyName(sub), seq: seq})
		total += seq.Len()
	}

	st := e.State()
	e.update(func(s *State) { s.TotalConfigs = total })
	if p := e.opts.persister; p != nil {
		info := RunInfo{
			ID:           st.RunID,
			Study:        e.opts.study,
			TotalConfigs: total,
			Workers:      e.opts.workers,
			BatchSize:    e.opts.batchSize,
			Patience:     e.opts.patience,
			Resume:       resume,
			StartedAt:    *st.StartedAt,
		}
		for _, pl := range plans {
			info.SubStudies = append(info.SubStudies, pl.name)
		}
		if err := p.SaveRunStart(info); err != nil {
			e.addWarning(fmt.Sprintf("persist run start: %v", err))
		}
	}

	for i, pl := range plans {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.computeSub(ctx, i, pl, resume, callbacks); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkpointing() bool { return e.opts.checkpointDir != "" }

func (e *Engine) computeSub(ctx context.Context, index int, pl plan, resume bool, callbacks []Callback) (err error) {
	log := e.log.WithField("sub_study", pl.name)
	seq := pl.seq

	arr := grid.New(pl.name, seq.Axes())
	if resume && e.checkpointing() {
		prev, ok, rerr := e.opts.store.Read(e.opts.checkpointDir, pl.name)
		if rerr != nil {
			return rerr
		}
		if ok {
			if cerr := checkpoint.CheckAxes(prev, seq.Axes()); cerr != nil {
				return cerr
			}
			arr = prev
		}
	}

	// Array and sequence share the row-major layout, so the enumeration
	// index is the cell offset.
	var pending []int
	for off := 0; off < seq.Len(); off++ {
		if !arr.Computed(off) {
			pending = append(pending, off)
		}
	}
	done := seq.Len() - len(pending)

	e.update(func(s *State) {
		s.SubStudy = pl.name
		s.CompletedConfigs += done
	})
	// Published once the sub-study stops, complete or not.
	defer func() {
		e.mu.Lock()
		e.results[pl.name] = arr
		e.order = append(e.order, pl.name)
		e.mu.Unlock()
	}()

	log.WithFields(logrus.Fields{
		"configs": seq.Len(),
		"pending": len(pending),
		"axes":    len(seq.Axes()),
	}).Info("sub-study started")

	cctx := &CallbackContext{
		Study:     e.opts.study,
		SubStudy:  pl.name,
		Index:     index,
		Total:     seq.Len(),
		Completed: done,
		Axes:      seq.Axes(),
	}
	var ready []Callback
	defer func() {
		var terrs error
		for i := len(ready) - 1; i >= 0; i-- {
			if terr := ready[i].Teardown(); terr != nil {
				terrs = multierror.Append(terrs, terr)
			}
		}
		if err == nil && terrs != nil {
			err = fmt.Errorf("callback teardown: %w", terrs)
		}
	}()
	for _, cb := range callbacks {
		if serr := cb.Setup(cctx); serr != nil {
			return fmt.Errorf("callback setup: %w", serr)
		}
		ready = append(ready, cb)
	}

	prog := Progress{SubStudy: pl.name, Completed: done, Total: seq.Len()}
	save := func() error {
		if !e.checkpointing() {
			return nil
		}
		if werr := e.writeCheckpoint(pl.name, arr); werr != nil {
			return werr
		}
		prog.CheckpointWrites++
		return nil
	}
	unsaved := 0
	for b, start := 0, 0; start < len(pending); b, start = b+1, start+e.opts.batchSize {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		batch := pending[start:min(start+e.opts.batchSize, len(pending))]
		log.WithFields(logrus.Fields{"batch": b, "size": len(batch)}).Debug("dispatching batch")

		results, berr := e.runBatch(ctx, pl.name, b, seq, batch, ready)
		if berr != nil {
			return berr
		}
		for j, off := range batch {
			arr.SetOffset(off, results[j])
		}
		unsaved++
		prog.Batches++
		prog.Completed += len(batch)
		e.update(func(s *State) { s.Batches++ })

		if unsaved >= e.opts.patience {
			if werr := save(); werr != nil {
				return werr
			}
			unsaved = 0
		}
		e.reportProgress(prog)
	}
	if unsaved > 0 {
		if werr := save(); werr != nil {
			return werr
		}
		e.reportProgress(prog)
	}
	log.WithField("missing", arr.Missing()).Info("sub-study complete")
	return nil
}

// runBatch evaluates one batch on the worker pool and blocks until every
// entry finished. The first failure cancels the entries not yet started.
func (e *Engine) runBatch(ctx context.Context, sub string, b int, seq *config.Sequence, batch []int, callbacks []Callback) ([]grid.Result, error) {
	results := make([]grid.Result, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.workers)
	for j, off := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c := seq.At(off)
			r, err := e.evaluate(gctx, c)
			if err != nil {
				return &EvaluationError{SubStudy: sub, Batch: b, Index: off, Hash: c.Hash(), Err: err}
			}
			results[j] = r
			return e.completed(callbacks)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// evaluate runs the evaluator once per distinct content hash per run.
func (e *Engine) evaluate(ctx context.Context, c *config.Concrete) (grid.Result, error) {
	h := c.Hash()
	if r, ok := e.memoized(h); ok {
		return r, nil
	}
	v, err, _ := e.flight.Do(h, func() (any, error) {
		if r, ok := e.memoized(h); ok {
			return r, nil
		}
		r, err := e.eval.Evaluate(ctx, c)
		if err != nil {
			return nil, err
		}
		if r == nil {
			r = grid.Result{}
		}
		e.memoMu.Lock()
		e.memo[h] = r
		e.memoMu.Unlock()
		e.update(func(s *State) { s.Evaluations++ })
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(grid.Result), nil
}

func (e *Engine) memoized(h string) (grid.Result, bool) {
	e.memoMu.Lock()
	defer e.memoMu.Unlock()
	r, ok := e.memo[h]
	return r, ok
}

func (e *Engine) completed(callbacks []Callback) error {
	e.update(func(s *State) { s.CompletedConfigs++ })
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	for _, cb := range callbacks {
		if err := cb.Update(); err != nil {
			return fmt.Errorf("callback update: %w", err)
		}
	}
	return nil
}

func (e *Engine) writeCheckpoint(sub string, arr *grid.Array) error {
	if err := e.opts.store.Write(e.opts.checkpointDir, sub, arr); err != nil {
		return err
	}
	e.update(func(s *State) { s.CheckpointWrites++ })
	return nil
}

// reportProgress hands the counts of one sub-study to the persister.
func (e *Engine) reportProgress(p Progress) {
	if e.opts.persister == nil {
		return
	}
	if err := e.opts.persister.SaveRunProgress(e.State().RunID, p); err != nil {
		e.addWarning(fmt.Sprintf("persist run progress: %v", err))
	}
}

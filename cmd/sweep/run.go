package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/grid"
	"github.com/banshee-data/paramsweep/internal/ledger"
	"github.com/banshee-data/paramsweep/internal/models"
	"github.com/banshee-data/paramsweep/internal/monitoring"
	"github.com/banshee-data/paramsweep/internal/sweep"
	"github.com/banshee-data/paramsweep/internal/timeutil"
	"github.com/banshee-data/paramsweep/internal/worker"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type runOpts struct {
	workers       int
	batchSize     int
	patience      int
	checkpointDir string
	noCheckpoint  bool
	resume        bool
	evaluator     string
	remote        []string
	ledgerPath    string
	sets          []string
	csvDir        string
	progress      bool
	memory        bool
}

func newRunCmd(root *rootOpts) *cobra.Command {
	opts := &runOpts{}
	cmd := &cobra.Command{
		Use:   "run STUDY_FILE",
		Short: "Evaluate every configuration of a study",
		Args:  cobra.ExactArgs(1),
		Example: `  sweep run study.yaml --evaluator normal --workers 8
  sweep run study.toml --resume --set model.lr=0.001:0.01:0.003
  sweep run study.yaml --evaluator erdos_renyi --remote host1:7070,host2:7070`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.apply(cmd, root.settings); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.run(ctx, cmd.OutOrStdout(), root.settings, args[0])
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.workers, "workers", "w", 0, "concurrent evaluations (default: CPU count)")
	f.IntVar(&opts.batchSize, "batch-size", 0, "configs dispatched per batch (default: workers)")
	f.IntVar(&opts.patience, "patience", 0, "batches between checkpoint writes (default 1)")
	f.StringVar(&opts.checkpointDir, "checkpoint-dir", "", "checkpoint directory (default \"checkpoints\")")
	f.BoolVar(&opts.noCheckpoint, "no-checkpoint", false, "do not write checkpoints")
	f.BoolVar(&opts.resume, "resume", false, "skip configs already stored in checkpoints")
	f.StringVarP(&opts.evaluator, "evaluator", "e", "", fmt.Sprintf("model name, or a comma list of primary and auxiliaries (known: %s)", strings.Join(models.Names(), ", ")))
	f.StringSliceVar(&opts.remote, "remote", nil, "evaluate on these worker addresses instead of in-process")
	f.StringVar(&opts.ledgerPath, "ledger", "", "record the run in this SQLite ledger")
	f.StringArrayVar(&opts.sets, "set", nil, "override a key: path=value, path=a,b,c or path=min:max:step (repeatable)")
	f.StringVar(&opts.csvDir, "csv", "", "write one CSV per sub-study into this directory")
	f.BoolVar(&opts.progress, "progress", true, "show a progress bar")
	f.BoolVar(&opts.memory, "memory", false, "log memory usage while running")
	return cmd
}

// apply merges explicitly set flags over the loaded settings.
func (o *runOpts) apply(cmd *cobra.Command, s *config.Settings) error {
	override := config.EmptySettings()
	f := cmd.Flags()
	if f.Changed("workers") {
		override.Workers = config.IntPtr(o.workers)
	}
	if f.Changed("batch-size") {
		override.BatchSize = config.IntPtr(o.batchSize)
	}
	if f.Changed("patience") {
		override.Patience = config.IntPtr(o.patience)
	}
	if f.Changed("checkpoint-dir") {
		override.CheckpointDir = config.StringPtr(o.checkpointDir)
	}
	if f.Changed("evaluator") {
		override.Evaluator = config.StringPtr(o.evaluator)
	}
	if f.Changed("ledger") {
		override.LedgerPath = config.StringPtr(o.ledgerPath)
	}
	if f.Changed("remote") {
		override.Remote = o.remote
	}
	if err := override.Validate(); err != nil {
		return err
	}
	return s.Merge(override)
}

func (o *runOpts) run(ctx context.Context, out io.Writer, s *config.Settings, path string) error {
	log := monitoring.WithComponent("cli")

	root, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if err := applySets(root, o.sets); err != nil {
		return err
	}

	eval, closeEval, err := newEvaluator(s)
	if err != nil {
		return err
	}
	defer closeEval()

	engineOpts := append(sweep.SettingsOptions(s), sweep.WithStudyName(root.Name()))
	if o.noCheckpoint {
		engineOpts = append(engineOpts, sweep.WithCheckpointDir(""))
	}
	if p := s.GetLedgerPath(); p != "" {
		l, err := ledger.Open(p)
		if err != nil {
			return err
		}
		defer l.Close()
		engineOpts = append(engineOpts, sweep.WithPersister(l))
	}

	e, err := sweep.New(root, eval, engineOpts...)
	if err != nil {
		return err
	}

	var callbacks []sweep.Callback
	if o.progress {
		callbacks = append(callbacks, sweep.NewProgressCallback(out))
	} else {
		callbacks = append(callbacks, sweep.NewLogCallback(s.GetMemorySampleEvery(), log))
	}
	if o.memory {
		callbacks = append(callbacks, sweep.NewMemoryCallback(s.GetMemorySampleEvery(), timeutil.RealClock{}))
	}

	runErr := e.Compute(ctx, o.resume, callbacks...)
	st := e.State()
	for _, w := range st.Warnings {
		log.Warn(w)
	}

	for _, sub := range e.SubStudies() {
		arr, _ := e.Result(sub)
		if err := printSummary(out, arr); err != nil {
			return err
		}
		if o.csvDir != "" {
			if err := writeCSV(o.csvDir, arr); err != nil {
				return err
			}
		}
	}
	fmt.Fprintf(out, "run %s: %s, %s/%s configs, %s evaluations\n",
		st.RunID, st.Status,
		humanize.Comma(int64(st.CompletedConfigs)), humanize.Comma(int64(st.TotalConfigs)),
		humanize.Comma(int64(st.Evaluations)))
	return runErr
}

// newEvaluator returns the configured evaluator and a function releasing it.
func newEvaluator(s *config.Settings) (sweep.Evaluator, func(), error) {
	if len(s.Remote) > 0 {
		c, err := worker.Dial(s.GetEvaluator(), s.Remote)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}
	m, err := models.Lookup(s.GetEvaluator())
	if err != nil {
		return nil, nil, err
	}
	return m, func() {}, nil
}

// applySets overrides keys of root from path=value pairs.
func applySets(root *config.Node, sets []string) error {
	for _, kv := range sets {
		path, raw, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(path) == "" {
			return fmt.Errorf("--set %q: expected path=value", kv)
		}
		vals, err := config.ParseParamList(raw)
		if err != nil {
			return fmt.Errorf("--set %s: %w", path, err)
		}
		var v any = vals
		switch len(vals) {
		case 0:
			return fmt.Errorf("--set %s: no value", path)
		case 1:
			v = vals[0]
		}
		if err := root.Set(strings.TrimSpace(path), v); err != nil {
			return fmt.Errorf("--set %s: %w", path, err)
		}
	}
	return nil
}

func printSummary(out io.Writer, arr *grid.Array) error {
	fmt.Fprintf(out, "%s: %s cells, %d missing\n", arr.SubStudy, humanize.Comma(int64(arr.Len())), arr.Missing())
	for _, field := range arr.FieldNames() {
		st, err := arr.Summary(field)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %-20s mean=%-12.6g std=%-12.6g min=%-12.6g max=%.6g\n", field, st.Mean, st.Std, st.Min, st.Max)
	}
	return nil
}

func writeCSV(dir string, arr *grid.Array) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, arr.SubStudy+".csv")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := arr.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

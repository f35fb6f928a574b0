package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/paramsweep/internal/checkpoint"
	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/ledger"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type inspectOpts struct {
	checkpointDir string
	ledgerPath    string
	output        string
}

// studyReport is what inspect prints for one study file.
type studyReport struct {
	Study      string           `json:"study" yaml:"study"`
	Configs    int              `json:"configs" yaml:"configs"`
	SubStudies []subStudyReport `json:"sub_studies" yaml:"sub_studies"`
}

type subStudyReport struct {
	Name       string         `json:"name" yaml:"name"`
	Configs    int            `json:"configs" yaml:"configs"`
	Axes       []axisReport   `json:"axes" yaml:"axes"`
	Checkpoint *ckptReport    `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
	LatestRun  *latestRunInfo `json:"latest_run,omitempty" yaml:"latest_run,omitempty"`
}

type axisReport struct {
	Name   string   `json:"name" yaml:"name"`
	Kind   string   `json:"kind" yaml:"kind"`
	Branch bool     `json:"branch,omitempty" yaml:"branch,omitempty"`
	Values []string `json:"values" yaml:"values"`
	Guards []string `json:"guards,omitempty" yaml:"guards,omitempty"`
}

type ckptReport struct {
	Computed int      `json:"computed" yaml:"computed"`
	Missing  int      `json:"missing" yaml:"missing"`
	Fields   []string `json:"fields" yaml:"fields"`
	Error    string   `json:"error,omitempty" yaml:"error,omitempty"`
}

type latestRunInfo struct {
	RunID     string `json:"run_id" yaml:"run_id"`
	Status    string `json:"status" yaml:"status"`
	StartedAt string `json:"started_at" yaml:"started_at"`
	Completed int    `json:"completed" yaml:"completed"`
}

func newInspectCmd(root *rootOpts) *cobra.Command {
	opts := &inspectOpts{}
	cmd := &cobra.Command{
		Use:   "inspect STUDY_FILE",
		Short: "Show the axes of a study and the state of its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "text" && opts.output != "yaml" && opts.output != "json" {
				return errors.New("output format must be text, yaml or json")
			}
			if !cmd.Flags().Changed("checkpoint-dir") {
				opts.checkpointDir = root.settings.GetCheckpointDir()
			}
			if !cmd.Flags().Changed("ledger") {
				opts.ledgerPath = root.settings.GetLedgerPath()
			}
			rep, err := opts.inspect(args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringVar(&opts.checkpointDir, "checkpoint-dir", "", "checkpoint directory to report on (default from settings)")
	cmd.Flags().StringVar(&opts.ledgerPath, "ledger", "", "report the latest run recorded in this ledger")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "text, yaml or json")
	return cmd
}

func (o *inspectOpts) inspect(path string) (*studyReport, error) {
	root, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	subs, err := config.SubStudies(root)
	if err != nil {
		return nil, err
	}

	var runs *ledger.Store
	if o.ledgerPath != "" {
		if runs, err = ledger.Open(o.ledgerPath); err != nil {
			return nil, err
		}
		defer runs.Close()
	}
	store := checkpoint.NewStore(nil)

	rep := &studyReport{Study: root.Name()}
	for _, sub := range subs {
		seq, err := sub.Enumerate()
		if err != nil {
			return nil, fmt.Errorf("sub-study %q: %w", sub.Name(), err)
		}
		sr := subStudyReport{Name: sub.Name(), Configs: seq.Len()}
		for _, a := range seq.Axes() {
			sr.Axes = append(sr.Axes, describeAxis(a))
		}
		if o.checkpointDir != "" {
			sr.Checkpoint = readCheckpoint(store, o.checkpointDir, sub.Name(), seq.Axes())
		}
		if runs != nil {
			rec, err := runs.LatestRun(root.Name(), sub.Name())
			if err != nil {
				return nil, err
			}
			if rec != nil {
				sr.LatestRun = &latestRunInfo{
					RunID:     rec.RunID,
					Status:    string(rec.Status),
					StartedAt: humanize.Time(rec.StartedAt),
					Completed: rec.Completed(),
				}
			}
		}
		rep.Configs += sr.Configs
		rep.SubStudies = append(rep.SubStudies, sr)
	}
	return rep, nil
}

func describeAxis(a config.Axis) axisReport {
	ar := axisReport{Name: a.Name, Kind: a.Kind.String(), Branch: a.Branch}
	for _, v := range a.Values {
		ar.Values = append(ar.Values, config.FormatValue(v))
	}
	for _, g := range a.Guards {
		ar.Guards = append(ar.Guards, g.Path+"="+g.Branch)
	}
	return ar
}

func readCheckpoint(store *checkpoint.Store, dir, sub string, axes []config.Axis) *ckptReport {
	arr, ok, err := store.Read(dir, sub)
	if err != nil {
		return &ckptReport{Error: err.Error()}
	}
	if !ok {
		return nil
	}
	rep := &ckptReport{Missing: arr.Missing(), Fields: arr.FieldNames()}
	rep.Computed = arr.Len() - rep.Missing
	if err := checkpoint.CheckAxes(arr, axes); err != nil {
		rep.Error = err.Error()
	}
	return rep
}

func (o *inspectOpts) print(out io.Writer, rep *studyReport) error {
	switch o.output {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(out, "study %s: %s configs in %d sub-studies\n", rep.Study, humanize.Comma(int64(rep.Configs)), len(rep.SubStudies))
	for _, sr := range rep.SubStudies {
		fmt.Fprintf(out, "\n%s (%s configs)\n", sr.Name, humanize.Comma(int64(sr.Configs)))
		for _, a := range sr.Axes {
			line := fmt.Sprintf("  %s [%s] %s", a.Name, a.Kind, strings.Join(a.Values, ", "))
			if len(a.Guards) > 0 {
				line += " when " + strings.Join(a.Guards, ", ")
			}
			fmt.Fprintln(out, line)
		}
		if c := sr.Checkpoint; c != nil {
			if c.Error != "" {
				fmt.Fprintf(out, "  checkpoint: %s\n", c.Error)
			} else {
				fmt.Fprintf(out, "  checkpoint: %d computed, %d missing, fields %s\n", c.Computed, c.Missing, strings.Join(c.Fields, ", "))
			}
		}
		if r := sr.LatestRun; r != nil {
			fmt.Fprintf(out, "  latest run: %s %s, started %s, %d configs done\n", r.RunID, r.Status, r.StartedAt, r.Completed)
		}
	}
	return nil
}

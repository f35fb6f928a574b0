package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/banshee-data/paramsweep/internal/checkpoint"
	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/grid"
	"github.com/banshee-data/paramsweep/internal/merge"
	"github.com/banshee-data/paramsweep/internal/monitoring"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type mergeOpts struct {
	aStudy, aDir string
	bStudy, bDir string
	outDir       string
	outStudy     string
}

func newMergeCmd(_ *rootOpts) *cobra.Command {
	opts := &mergeOpts{}
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Union two studies and their checkpoints",
		Long: `merge unions the sweep space of study A with study B, sub-study by
sub-study, and fills the union's arrays from both checkpoint directories.
Where both studies reach a configuration, A's result wins.`,
		Args: cobra.NoArgs,
		Example: `  sweep merge --a first.yaml --a-checkpoints ckpt-a \
    --b second.yaml --b-checkpoints ckpt-b \
    --out merged-ckpt --out-study merged.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.aStudy, "a", "", "study file A")
	f.StringVar(&opts.aDir, "a-checkpoints", "", "checkpoint directory of A")
	f.StringVar(&opts.bStudy, "b", "", "study file B")
	f.StringVar(&opts.bDir, "b-checkpoints", "", "checkpoint directory of B")
	f.StringVar(&opts.outDir, "out", "", "checkpoint directory for the merged arrays")
	f.StringVar(&opts.outStudy, "out-study", "", "write the merged study file here (YAML)")
	for _, name := range []string{"a", "a-checkpoints", "b", "b-checkpoints", "out"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// studySide is one loaded study: its sub-studies by name, in order.
type studySide struct {
	root  *config.Node
	order []string
	subs  map[string]*config.Node
	dir   string
}

func loadSide(path, dir string) (*studySide, error) {
	root, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	subs, err := config.SubStudies(root)
	if err != nil {
		return nil, err
	}
	s := &studySide{root: root, subs: make(map[string]*config.Node), dir: dir}
	for _, sub := range subs {
		s.order = append(s.order, sub.Name())
		s.subs[sub.Name()] = sub
	}
	return s, nil
}

// input pairs a sub-study node with its checkpoint, or an empty array when
// no checkpoint exists yet.
func (s *studySide) input(store *checkpoint.Store, name string) (merge.Input, error) {
	node := s.subs[name]
	axes, err := node.Axes()
	if err != nil {
		return merge.Input{}, err
	}
	arr, ok, err := store.Read(s.dir, name)
	if err != nil {
		return merge.Input{}, err
	}
	if !ok {
		arr = grid.New(name, axes)
	}
	return merge.Input{Node: node, Array: arr}, nil
}

func (o *mergeOpts) run(out io.Writer) error {
	log := monitoring.WithComponent("merge")
	a, err := loadSide(o.aStudy, o.aDir)
	if err != nil {
		return err
	}
	b, err := loadSide(o.bStudy, o.bDir)
	if err != nil {
		return err
	}

	names := append([]string(nil), a.order...)
	for _, name := range b.order {
		if _, ok := a.subs[name]; !ok {
			names = append(names, name)
		}
	}

	store := checkpoint.NewStore(nil)
	merged := make([]*config.Node, 0, len(names))
	for _, name := range names {
		node, arr, err := o.mergeSub(store, a, b, name)
		if err != nil {
			return fmt.Errorf("sub-study %q: %w", name, err)
		}
		if err := store.Write(o.outDir, name, arr); err != nil {
			return err
		}
		log.WithField("sub_study", name).Infof("merged %d cells, %d missing", arr.Len(), arr.Missing())
		fmt.Fprintf(out, "%s: %d cells, %d computed\n", name, arr.Len(), arr.Len()-arr.Missing())
		merged = append(merged, node)
	}

	if o.outStudy == "" {
		return nil
	}
	return writeStudy(o.outStudy, a.root, merged)
}

func (o *mergeOpts) mergeSub(store *checkpoint.Store, a, b *studySide, name string) (*config.Node, *grid.Array, error) {
	_, inA := a.subs[name]
	_, inB := b.subs[name]
	switch {
	case inA && inB:
		ia, err := a.input(store, name)
		if err != nil {
			return nil, nil, err
		}
		ib, err := b.input(store, name)
		if err != nil {
			return nil, nil, err
		}
		return merge.Merge(ia, ib)
	case inA:
		in, err := a.input(store, name)
		return in.Node, in.Array, err
	case inB:
		in, err := b.input(store, name)
		return in.Node, in.Array, err
	}
	return nil, nil, errors.New("unknown sub-study")
}

// writeStudy writes the merged sub-studies as one study file. A study with
// a single sub-study named after the root is written without a studies
// list.
func writeStudy(path string, root *config.Node, subs []*config.Node) error {
	doc := config.New(root.Name())
	if len(subs) == 1 && subs[0].Name() == root.Name() {
		doc = subs[0]
	} else if err := doc.Insert(config.SubStudyKey, subs); err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

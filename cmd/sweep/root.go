package main

import (
	"io"

	"github.com/banshee-data/paramsweep/internal/config"
	"github.com/banshee-data/paramsweep/internal/monitoring"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootOpts struct {
	cfgFile  string
	debug    bool
	json     bool
	settings *config.Settings
}

const longRootDescription = `sweep expands a study file into every concrete configuration, evaluates
each one on a worker pool and stores the results in dense arrays that are
checkpointed as they fill.`

func newRootCmd() *cobra.Command {
	opts := &rootOpts{}
	cmd := &cobra.Command{
		Use:           "sweep",
		Short:         "Run parameter sweeps over study files",
		Long:          longRootDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd.ErrOrStderr())
		},
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "settings file (JSON, YAML or TOML); PARAMSWEEP_* environment variables override it")
	cmd.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "turn on debug logging")
	cmd.PersistentFlags().BoolVar(&opts.json, "log-json", false, "log as JSON")

	cmd.AddCommand(
		newRunCmd(opts),
		newInspectCmd(opts),
		newMergeCmd(opts),
		newWorkerCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// setup loads settings and configures logging before any subcommand runs.
func (o *rootOpts) setup(logOut io.Writer) error {
	s, err := config.LoadSettings(o.cfgFile)
	if err != nil {
		return err
	}
	o.settings = s

	level := s.GetLogLevel()
	if o.debug {
		level = logrus.DebugLevel
	}
	return monitoring.Init(monitoring.Options{Level: level.String(), JSON: o.json, Output: logOut})
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"

	"github.com/banshee-data/paramsweep/internal/version"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	GitSHA    string `json:"git_sha" yaml:"git_sha"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

func newVersionCmd() *cobra.Command {
	var (
		short  bool
		output string
	)
	cmd := &cobra.Command{
		Use:     "version",
		Short:   "Print version info",
		Args:    cobra.NoArgs,
		Example: `sweep version`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "yaml" && output != "json" {
				return errors.New("output format must be yaml or json")
			}
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, version.Version)
				return nil
			}
			info := versionInfo{
				Version:   version.Version,
				GitSHA:    version.GitSHA,
				BuildTime: version.BuildTime,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			if output == "json" {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			data, err := yaml.Marshal(info)
			if err != nil {
				return err
			}
			fmt.Fprint(out, string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "If true, print just the version number.")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "choose `yaml` or `json` format to print version info")
	return cmd
}

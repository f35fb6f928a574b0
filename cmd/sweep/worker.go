package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/paramsweep/internal/models"
	"github.com/banshee-data/paramsweep/internal/sweep"
	"github.com/banshee-data/paramsweep/internal/worker"
	"github.com/spf13/cobra"
)

func newWorkerCmd(_ *rootOpts) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve evaluations to remote sweep runs over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}
			s := worker.NewServer(func(name string) (sweep.Evaluator, error) {
				return models.Lookup(name)
			})

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)
			go func() {
				select {
				case <-sig:
				case <-cmd.Context().Done():
				}
				s.Stop()
			}()
			return s.Serve(lis)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":7070", "address to listen on")
	return cmd
}

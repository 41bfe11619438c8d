package main

import (
	"github.com/spf13/cobra"

	"github.com/kchartio/kchart/internal/di"
)

func (a *app) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the read API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.injector = di.NewContainer(a.flags)
			defer a.close()
			if err := di.Serve(a.injector); err != nil {
				return err
			}

			log := a.logger()
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			<-ctx.Done()

			log.Info("Shutting down gracefully...")
			return nil
		},
	}

	cmd.Flags().StringVar(&a.flags.Port, "port", "", "read API port")
	cmd.Flags().StringVar(&a.flags.Workers, "workers", "", "number of scheduler workers")
	return cmd
}

package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"perftrail/internal/server"
)

func newServeCommand() *cobra.Command {
	var noSummarizer bool

	cmd := &cobra.Command{
		Use:   "serve",
		Args:  cobra.NoArgs,
		Short: "Serve the read API and run the periodic summarizer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(a.cfg, server.Deps{
				Store:      a.store,
				Cards:      a.cards,
				Analyzer:   a.analyzer,
				Summarizer: a.summarizer,
				Narrator:   a.narrator,
				Recorder:   a.recorder,
				Gatherer:   a.registry,
				Logger:     a.logger,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				return srv.Shutdown(context.Background())
			})
			if !noSummarizer {
				g.Go(func() error {
					return a.summarizer.Run(gctx)
				})
			}

			err = g.Wait()
			a.logger.Info("perftrail stopped", zap.Error(err))
			return err
		},
	}

	cmd.Flags().BoolVar(&noSummarizer, "no-summarizer", false, "do not run the periodic summarizer in this process")
	return cmd
}

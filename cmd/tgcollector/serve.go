package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/tgcollector/internal/api"
	"github.com/MikeSquared-Agency/tgcollector/internal/pipeline"
	"github.com/MikeSquared-Agency/tgcollector/internal/schedule"
)

var (
	serveOpts  runFlags
	servePort  int
	serveSched string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Collect on a schedule and serve the store over HTTP",
	Long: `serve runs a collection pass at startup and then on TGC_SCHEDULE
(a cron spec, default "@every 6h"). A pass never starts while another is
still running. The HTTP API exposes /health, /api/v1/status, /sub and
/sub/base64.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cmd, &serveOpts)
		if err != nil {
			return err
		}
		defer a.Close()

		port := a.cfg.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		spec := a.cfg.Schedule
		if cmd.Flags().Changed("schedule") {
			spec = serveSched
		}

		sched, err := schedule.New(spec, func(ctx context.Context) (*pipeline.Summary, error) {
			return a.runner.Run(ctx)
		}, a.logger)
		if err != nil {
			return err
		}

		if a.mirror != nil {
			if counts, err := a.mirror.CountConfigs(ctx); err != nil {
				a.logger.Warn("could not read mirror counts", "error", err)
			} else {
				a.logger.Info("mirror contents", "by_scheme", fmt.Sprint(counts))
			}
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		srv := api.NewServer(port, sched, a.unique, a.logger)
		errCh := make(chan error, 1)
		go func() {
			err := srv.Start(ctx)
			if err != nil {
				a.logger.Error("HTTP server error", "error", err)
				cancel()
			}
			errCh <- err
		}()

		a.logger.Info("tgcollector serving", "version", version, "port", port, "schedule", spec)
		if err := sched.Run(ctx); err != nil {
			return err
		}
		if err := <-errCh; err != nil {
			return err
		}
		a.logger.Info("tgcollector stopped")
		return nil
	},
}

func init() {
	addRunFlags(serveCmd, &serveOpts)
	serveCmd.Flags().IntVar(&servePort, "port", 8760, "HTTP listen port")
	serveCmd.Flags().StringVar(&serveSched, "schedule", "@every 6h", "cron spec for collection passes")
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List configured channels with their kind and title",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		logger, closer := newLogger(cfg)
		defer closer.Close()

		tr := newTransport(cfg, logger)
		if err := tr.Authenticate(ctx); err != nil {
			logger.Error("authentication failed", "error", err)
			return err
		}
		channels, err := tr.ListChannels(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tTITLE")
		for _, ch := range channels {
			fmt.Fprintf(w, "%s\t%s\t%s\n", ch.ID, ch.Kind, ch.Name)
		}
		return w.Flush()
	},
}

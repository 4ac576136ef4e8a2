// Command tgcollector collects proxy configuration URIs posted to Telegram
// channels and keeps a deduplicated store of them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "tgcollector",
	Short: "Collect vless/trojan/ss configs from Telegram channels",
	Long: `tgcollector scans Telegram channels whose names look proxy-related,
collects the messages posted in a trailing time window, and appends every
new vless://, trojan:// and ss:// URI to a deduplicated store.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("tgcollector " + version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

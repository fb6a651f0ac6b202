// Package commands implements the gcconfirm benchmark driver CLI.
package commands

import (
	"time"

	"github.com/spf13/cobra"
)

// Version information injected at build time.
var Version = "dev"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gcconfirm",
	Short: "Force a garbage collection and confirm it ran",
	Long: `gcconfirm requests a full garbage collection and waits until the
runtime's collection counters show that it ran and settled, or a deadline
passes. It is meant to be run between benchmark iterations.

Settings come from flags, GCCONFIRM_* environment variables and
./configs/config.yaml, in that order.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	rootCmd.Version = Version
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("source", "runtime", "counter source: runtime, memstats or prometheus")
	pf.Int("min-cycles", 2, "collection cycles to observe before waiting for quiet")
	pf.Duration("deadline", 20*time.Second, "how long to poll after requesting collection")
	pf.Duration("poll-interval", 200*time.Millisecond, "time between counter polls")
	pf.Duration("blind-wait", 20*time.Second, "wait used when no counter can be read")
	pf.String("prometheus-url", "http://localhost:9090", "Prometheus server for the prometheus source")
	pf.String("prometheus-query", "", "PromQL selecting the target's gc cycle counters")
	pf.String("pprof-url", "", "target debug server used to request remote collections")
	pf.String("db", "./data/gcconfirm.db", "SQLite file recording confirmations")
	pf.String("log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
}

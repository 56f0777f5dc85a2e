package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	codes      []string
	workers    int
)

var rootCmd = &cobra.Command{
	Use:   "epicast",
	Short: "Weekly disease incidence forecasting",
	Long: `EpiCast tunes, trains and serves SARIMA forecasts of weekly disease
incidence counts.

Run "epicast serve" for the HTTP API, Kafka trigger consumer and tuning queue,
or one of the stage commands for a single run over the selected codes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	for _, c := range stageCommands() {
		c.Flags().StringSliceVar(&codes, "codes", nil, "disease codes to process (default: every known code)")
		c.Flags().IntVar(&workers, "workers", 0, "concurrent disease codes (default: forecast.workers)")
		rootCmd.AddCommand(c)
	}
	requeueCmd.Flags().IntVar(&requeueLimit, "limit", 0, "maximum jobs to move (default: all)")
	rootCmd.AddCommand(serveCmd, requeueCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

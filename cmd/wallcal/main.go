package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	appLog "wallcal/internal/log"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "wallcal",
	Short: "Household wall calendar aggregation engine",
	Long: `wallcal merges public iCalendar feeds and a hosted calendar account into
one cached event list, and serves it to a wall display.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if logLevel == "" {
			logLevel = os.Getenv("LOG_LEVEL")
		}
		lvl, err := appLog.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		appLog.SetLevel(lvl)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/wallcal/config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default $LOG_LEVEL or info)")

	rootCmd.AddCommand(serveCmd, syncCmd, queryCmd, extendCmd, measureCmd, snapshotCmd)
}

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

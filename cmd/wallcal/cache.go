package main

import (
	"github.com/spf13/cobra"

	"wallcal/internal/rangecache"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the configured window once and replace the cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.manager.Sync(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), summary)
	},
}

var queryMerged bool

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print the cached events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if queryMerged {
			_, merged, err := a.manager.Merged(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), merged)
		}
		cache, err := a.manager.Query(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), cache)
	},
}

var extendReq rangecache.ExtendRequest

var extendCmd = &cobra.Command{
	Use:   "extend",
	Short: "Grow the cached window toward the given bounds",
	Long: `Grow the cached window. Bounds are RFC3339 timestamps or YYYY-MM-DD dates.

Examples:
  wallcal extend --time-max 2025-06-30
  wallcal extend --time-min 2024-12-01 --view month`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.manager.Extend(cmd.Context(), extendReq)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	queryCmd.Flags().BoolVar(&queryMerged, "merged", false, "print events after calendar merging")

	extendCmd.Flags().StringVar(&extendReq.TimeMin, "time-min", "", "new lower bound")
	extendCmd.Flags().StringVar(&extendReq.TimeMax, "time-max", "", "new upper bound")
	extendCmd.Flags().StringVar(&extendReq.View, "view", "", "display view asking for a backfill (month, fourWeek, week)")
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wallcal/internal/capture"
)

var (
	captureOpts capture.Options
	snapshotOut string
)

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Measure per-day event capacity of the rendered display page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if captureOpts.URL == "" {
			return fmt.Errorf("--url is required")
		}
		caps, err := capture.MeasureDayCapacities(cmd.Context(), captureOpts)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"capacities": caps})
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write a PNG preview of the display page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if captureOpts.URL == "" {
			return fmt.Errorf("--url is required")
		}
		out := snapshotOut
		if out == "" {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			out = a.previewPath()
			a.Close()
		}
		return capture.CapturePNG(cmd.Context(), captureOpts, out)
	},
}

func init() {
	for _, c := range []*cobra.Command{measureCmd, snapshotCmd} {
		c.Flags().StringVar(&captureOpts.URL, "url", "", "display page URL")
		c.Flags().IntVar(&captureOpts.Width, "width", capture.DefaultWidth, "viewport width in pixels")
		c.Flags().IntVar(&captureOpts.Height, "height", capture.DefaultHeight, "viewport height in pixels")
		c.Flags().DurationVar(&captureOpts.Timeout, "timeout", capture.DefaultTimeoutSec*time.Second, "browser session timeout")
	}
	snapshotCmd.Flags().StringVar(&snapshotOut, "out", "", "output PNG path (default <data_dir>/preview.png)")
}

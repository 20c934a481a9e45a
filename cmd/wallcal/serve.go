package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"wallcal/internal/schedule"
	"wallcal/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background sync",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.holder.Current()
		server := web.NewServer(web.Options{
			Config:      a.holder,
			Engine:      a.manager,
			Gatherer:    a.registry,
			PreviewPath: a.previewPath(),
		})
		auto := schedule.NewAutoSync(a.manager, cfg.RefreshCron, cfg.RefreshDisabled, cfg.Location())

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return server.Serve(gctx) })
		g.Go(func() error { return auto.Start(gctx) })
		return g.Wait()
	},
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"wallcal/internal/aggregate"
	"wallcal/internal/clock"
	"wallcal/internal/config"
	"wallcal/internal/google"
	"wallcal/internal/ics"
	appLog "wallcal/internal/log"
	"wallcal/internal/metrics"
	"wallcal/internal/rangecache"
	"wallcal/internal/store"
)

// app holds everything a command needs to talk to the range cache.
type app struct {
	holder   *config.Holder
	store    store.Store
	manager  *rangecache.Manager
	registry *prometheus.Registry
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	holder := config.NewHolder(cfg, configPath)
	cfg = holder.Current()

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"refresh_disabled", cfg.RefreshDisabled,
		"lookahead_days", cfg.LookaheadDays,
		"feeds", len(cfg.EnabledFeeds()),
		"google", cfg.Google.Enabled,
		"cache", cfg.Cache.Driver,
	)

	st, err := store.Open(ctx, store.Options{
		Driver:    cfg.Cache.Driver,
		Path:      cfg.Cache.Path,
		DataDir:   cfg.DataDir,
		RedisAddr: cfg.Cache.RedisAddr,
		RedisKey:  cfg.Cache.RedisKey,
	})
	if err != nil {
		return nil, fmt.Errorf("open event cache: %w", err)
	}

	loc := cfg.Location()
	fetcher := ics.NewFetcher(ics.FetcherOptions{
		CacheDir:             filepath.Join(cfg.DataDir, "ics-cache"),
		AllowPrivateNetworks: cfg.ICal.AllowPrivateNetworks,
	})
	feeds := &ics.FeedSource{
		Fetcher:       fetcher,
		Location:      loc,
		Timeout:       time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
		MaxConcurrent: cfg.ICal.MaxConcurrent,
	}
	hosted := &google.Source{
		Provider: google.NewTokenFileProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.TokenPath),
		Location: loc,
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mgr := rangecache.New(rangecache.Options{
		Store:   st,
		Runner:  aggregate.New(feeds, hosted),
		Config:  holder,
		Clock:   clock.SystemClock{},
		Metrics: metrics.NewCollector(reg),
	})

	return &app{holder: holder, store: st, manager: mgr, registry: reg}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		appLog.Warn("failed to close event cache", "err", err.Error())
	}
}

func (a *app) previewPath() string {
	return filepath.Join(a.holder.Current().DataDir, "preview.png")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

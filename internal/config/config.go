package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"wallcal/internal/fsutil"
	"wallcal/internal/model"
)

// Limits applied by Normalize.
const (
	DefaultLookaheadDays = 30
	MaxLookaheadDays     = 365

	DefaultBackfillDebounceSeconds = 60
	MinBackfillDebounceSeconds     = 5
	MaxBackfillDebounceSeconds     = 3600

	DefaultFetchTimeoutSeconds = 15
	MaxFetchTimeoutSeconds     = 120

	DefaultGoogleTimeoutSeconds = 60
	MaxGoogleTimeoutSeconds     = 600

	DefaultRefreshCron = "*/10 * * * *"

	envPrefix = "WALLCAL_"
)

// FeedConfig describes one public iCalendar subscription.
type FeedConfig struct {
	URL     string `yaml:"url" json:"url" koanf:"url"`
	Label   string `yaml:"label" json:"label" koanf:"label"`
	Color   string `yaml:"color,omitempty" json:"color,omitempty" koanf:"color"`
	Enabled bool   `yaml:"enabled" json:"enabled" koanf:"enabled"`
}

// ICalConfig groups feed subscriptions.
type ICalConfig struct {
	Feeds []FeedConfig `yaml:"feeds" json:"feeds" koanf:"feeds"`
	// AllowPrivateNetworks disables the SSRF guard for feed downloads, for
	// households that serve feeds from their own LAN.
	AllowPrivateNetworks bool `yaml:"allow_private_networks" json:"allow_private_networks" koanf:"allow_private_networks"`
	// MaxConcurrent bounds parallel feed downloads.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent" koanf:"max_concurrent"`
}

// GoogleConfig configures the hosted calendar API source.
type GoogleConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled" koanf:"enabled"`
	ClientID     string `yaml:"client_id" json:"client_id" koanf:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-" koanf:"client_secret"`
	// TokenPath is the oauth2 token JSON written by the admin surface.
	TokenPath string `yaml:"token_path" json:"token_path" koanf:"token_path"`
	// TimeoutSeconds bounds one whole collection across all calendars.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds" koanf:"timeout_seconds"`
}

// BackfillConfig toggles backward extension per display view.
type BackfillConfig struct {
	Month    bool `yaml:"month" json:"month" koanf:"month"`
	FourWeek bool `yaml:"four_week" json:"fourWeek" koanf:"four_week"`
	Week     bool `yaml:"week" json:"week" koanf:"week"`
}

// DisplayConfig holds the settings the engine reads on behalf of the display.
type DisplayConfig struct {
	MergeCalendars          bool           `yaml:"merge_calendars" json:"merge_calendars" koanf:"merge_calendars"`
	BackfillPast            BackfillConfig `yaml:"backfill_past" json:"backfill_past" koanf:"backfill_past"`
	BackfillDebounceSeconds int            `yaml:"backfill_debounce_seconds" json:"backfill_debounce_seconds" koanf:"backfill_debounce_seconds"`
	// WeekStart is "sunday" or "monday".
	WeekStart string `yaml:"week_start" json:"week_start" koanf:"week_start"`
}

// CacheConfig selects the persistent EventCache store.
type CacheConfig struct {
	// Driver is one of "file", "sqlite", "redis", "memory".
	Driver    string `yaml:"driver" json:"driver" koanf:"driver"`
	Path      string `yaml:"path" json:"path" koanf:"path"`
	RedisAddr string `yaml:"redis_addr" json:"redis_addr" koanf:"redis_addr"`
	RedisKey  string `yaml:"redis_key" json:"redis_key" koanf:"redis_key"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" koanf:"username"`
	Password string `yaml:"password" json:"-" koanf:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" koanf:"listen"`

	// Timezone is the IANA zone used to interpret date-only values and to
	// derive date keys (e.g. "America/New_York").
	Timezone string `yaml:"timezone" json:"timezone" koanf:"timezone"`

	// DataDir holds the event cache and the per-feed HTTP cache.
	DataDir string `yaml:"data_dir" json:"data_dir" koanf:"data_dir"`

	// RefreshCron schedules automatic sync. RefreshDisabled turns it off.
	RefreshCron     string `yaml:"refresh" json:"refresh" koanf:"refresh"`
	RefreshDisabled bool   `yaml:"refresh_disabled" json:"refresh_disabled" koanf:"refresh_disabled"`

	// LookaheadDays is how far into the future a sync covers.
	LookaheadDays int `yaml:"lookahead_days" json:"lookahead_days" koanf:"lookahead_days"`

	// FetchTimeoutSeconds bounds each source fetch.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds" koanf:"fetch_timeout_seconds"`

	Display   DisplayConfig          `yaml:"display" json:"display" koanf:"display"`
	Calendars []model.CalendarSource `yaml:"calendars" json:"calendars" koanf:"calendars"`
	ICal      ICalConfig             `yaml:"ical" json:"ical" koanf:"ical"`
	Google    GoogleConfig           `yaml:"google" json:"google" koanf:"google"`
	Cache     CacheConfig            `yaml:"cache" json:"cache" koanf:"cache"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty" koanf:"basic_auth"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              "127.0.0.1:8080",
		Timezone:            "America/New_York",
		DataDir:             "/var/lib/wallcal",
		RefreshCron:         DefaultRefreshCron,
		LookaheadDays:       DefaultLookaheadDays,
		FetchTimeoutSeconds: DefaultFetchTimeoutSeconds,
		Display: DisplayConfig{
			MergeCalendars: true,
			BackfillPast: BackfillConfig{
				Month:    true,
				FourWeek: true,
				Week:     true,
			},
			BackfillDebounceSeconds: DefaultBackfillDebounceSeconds,
			WeekStart:               "sunday",
		},
		Calendars: []model.CalendarSource{},
		ICal: ICalConfig{
			Feeds:         []FeedConfig{},
			MaxConcurrent: 4,
		},
		Google: GoogleConfig{
			Enabled:        true,
			TokenPath:      "/var/lib/wallcal/google-token.json",
			TimeoutSeconds: DefaultGoogleTimeoutSeconds,
		},
		Cache: CacheConfig{
			Driver:   "file",
			RedisKey: "wallcal:event_cache",
		},
	}
}

// Normalize fills in missing values and clamps numeric settings so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "America/New_York"
	}
	if c.DataDir == "" {
		c.DataDir = "/var/lib/wallcal"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = DefaultRefreshCron
	}
	c.LookaheadDays = clamp(c.LookaheadDays, 1, MaxLookaheadDays, DefaultLookaheadDays)
	c.FetchTimeoutSeconds = clamp(c.FetchTimeoutSeconds, 1, MaxFetchTimeoutSeconds, DefaultFetchTimeoutSeconds)
	c.Google.TimeoutSeconds = clamp(c.Google.TimeoutSeconds, 1, MaxGoogleTimeoutSeconds, DefaultGoogleTimeoutSeconds)
	c.Display.BackfillDebounceSeconds = clamp(c.Display.BackfillDebounceSeconds,
		MinBackfillDebounceSeconds, MaxBackfillDebounceSeconds, DefaultBackfillDebounceSeconds)

	switch c.Display.WeekStart {
	case "monday", "sunday":
	default:
		c.Display.WeekStart = "sunday"
	}

	if c.Calendars == nil {
		c.Calendars = []model.CalendarSource{}
	}
	if c.ICal.Feeds == nil {
		c.ICal.Feeds = []FeedConfig{}
	}
	for i := range c.ICal.Feeds {
		c.ICal.Feeds[i].URL = strings.TrimSpace(c.ICal.Feeds[i].URL)
		c.ICal.Feeds[i].Label = strings.TrimSpace(c.ICal.Feeds[i].Label)
	}
	if c.ICal.MaxConcurrent <= 0 {
		c.ICal.MaxConcurrent = 4
	}

	switch c.Cache.Driver {
	case "file", "sqlite", "redis", "memory":
	default:
		c.Cache.Driver = "file"
	}
	if c.Cache.RedisKey == "" {
		c.Cache.RedisKey = "wallcal:event_cache"
	}
}

// EnabledFeeds returns the feeds that are enabled and have a URL.
func (c *Config) EnabledFeeds() []FeedConfig {
	out := make([]FeedConfig, 0, len(c.ICal.Feeds))
	for _, f := range c.ICal.Feeds {
		if f.Enabled && f.URL != "" {
			out = append(out, f)
		}
	}
	return out
}

// BackfillEnabled reports whether backward extension is allowed for view.
// An empty or unknown view is allowed.
func (c *Config) BackfillEnabled(view string) bool {
	switch view {
	case "month":
		return c.Display.BackfillPast.Month
	case "fourWeek", "four_week":
		return c.Display.BackfillPast.FourWeek
	case "week":
		return c.Display.BackfillPast.Week
	default:
		return true
	}
}

// Location resolves Timezone, falling back to time.Local for unknown zones.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Clone returns a deep copy so that snapshots handed to the engine are never
// mutated by a concurrent Update.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Calendars = append([]model.CalendarSource(nil), c.Calendars...)
	cp.ICal.Feeds = append([]FeedConfig(nil), c.ICal.Feeds...)
	if c.BasicAuth != nil {
		ba := *c.BasicAuth
		cp.BasicAuth = &ba
	}
	return &cp
}

func clamp(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms before loading.
//   - Values are layered: defaults, then the YAML file, then WALLCAL_*
//     environment variables ("__" separates nesting levels, e.g.
//     WALLCAL_DISPLAY__MERGE_CALENDARS=false).
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// First run: create default config file.
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, err
		}
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(*DefaultConfig(), "koanf"), nil); err != nil {
		return nil, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}
	err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, v string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return strings.ReplaceAll(key, "__", "."), v
		},
	}), nil)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, ".wallcal-config-*.tmp")
}

// Holder owns the live configuration. The engine reads snapshots through
// Current at the start of every sync or extension decision.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder wraps cfg. When path is non-empty, Update persists changes.
func NewHolder(cfg *Config, path string) *Holder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Normalize()
	return &Holder{cfg: cfg, path: path}
}

// Current returns a copy of the current configuration.
func (h *Holder) Current() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg.Clone()
}

// Update applies fn to a copy, normalizes it, persists it if the holder has
// a path, and then publishes it.
func (h *Holder) Update(fn func(*Config)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.cfg.Clone()
	fn(next)
	next.Normalize()
	if h.path != "" {
		if err := Save(h.path, next); err != nil {
			return err
		}
	}
	h.cfg = next
	return nil
}

package capture

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	appLog "wallcal/internal/log"
)

// Default viewport of the wall display.
const (
	DefaultWidth      = 1080
	DefaultHeight     = 1920
	DefaultTimeoutSec = 30
)

// readySelector is set by the display page once data is loaded and painted.
const readySelector = `[data-ready="true"]`

// measureScript reports, for every day cell, how many single-day event
// rows fit below the cell header. Cells are marked with data-date-key and
// contain one [data-event-row] template used for the row height.
const measureScript = `(() => {
  const out = {};
  document.querySelectorAll('[data-date-key]').forEach((cell) => {
    const key = cell.getAttribute('data-date-key');
    const list = cell.querySelector('[data-event-list]') || cell;
    const row = cell.querySelector('[data-event-row]');
    if (!key || !row) return;
    const rowHeight = row.getBoundingClientRect().height;
    if (!rowHeight) return;
    out[key] = list.getBoundingClientRect().height / rowHeight;
  });
  return out;
})()`

// Options defines the page and viewport for a capture.
type Options struct {
	// URL of the display page, e.g. "http://127.0.0.1:8080/?view=month".
	URL string

	// Width and Height are the viewport in pixels. Zero uses the defaults.
	Width  int
	Height int

	// Timeout bounds the whole browser session. Zero uses DefaultTimeoutSec.
	Timeout time.Duration
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return nil
}

// run opens the page in headless Chromium, waits for the ready marker and
// then runs extra.
func run(parentCtx context.Context, opts Options, extra ...chromedp.Action) error {
	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		// Let the last layout pass settle.
		chromedp.Sleep(500 * time.Millisecond),
	}
	tasks = append(tasks, extra...)

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return nil
}

// MeasureDayCapacities renders the display page and returns, per date key,
// how many single-day events each cell can show. The result feeds the
// layout packer's measured capacities.
func MeasureDayCapacities(ctx context.Context, opts Options) (map[string]int, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	var raw map[string]float64
	if err := run(ctx, opts, chromedp.Evaluate(measureScript, &raw)); err != nil {
		return nil, err
	}
	out := Capacities(raw)
	appLog.Info("measured day capacities", "url", opts.URL, "days", len(out))
	return out, nil
}

// Capacities turns raw fractional row counts into whole capacities.
// Keys that are not YYYY-MM-DD dates and non-finite values are dropped.
func Capacities(raw map[string]float64) map[string]int {
	out := make(map[string]int, len(raw))
	for key, v := range raw {
		if _, err := time.Parse("2006-01-02", key); err != nil {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[key] = max(0, int(math.Floor(v)))
	}
	return out
}

// CapturePNG renders the display page and writes a full-page screenshot to
// path.
func CapturePNG(ctx context.Context, opts Options, path string) error {
	if path == "" {
		return fmt.Errorf("capture: output path is required")
	}
	if err := opts.normalize(); err != nil {
		return err
	}

	var png []byte
	if err := run(ctx, opts, chromedp.FullScreenshot(&png, 100)); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("capture: failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	appLog.Info("snapshot written", "path", path, "bytes", len(png))
	return nil
}

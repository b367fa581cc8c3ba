package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"finstats/internal/backend"
	"finstats/internal/cli"
	"finstats/internal/core"
	"finstats/internal/fetch"
	"finstats/internal/log"
	"finstats/internal/report"
	"finstats/internal/source/api"
	"finstats/internal/statsview"
)

func main() {
	cli.LoadEnvFile()

	window := flag.String("window", string(core.WindowMonth), "distribution window: TODAY, MONTH or YEAR")
	direction := flag.String("direction", string(core.Debit), "trend direction: CREDIT or DEBIT")
	year := flag.Int("year", 0, "year of the trend and variance charts (default: current year)")
	page := flag.Int("page", 1, "audit log page")
	theme := flag.String("theme", "", "color mode: light or dark (default: DEFAULT_THEME)")
	token := flag.String("token", "", "API session token (default: API_TOKEN)")
	summary := flag.Bool("summary", false, "print a one-line summary instead of the full report")
	flag.Parse()

	bootstrap := cli.SetupLogger("warn", "text")
	cfg := cli.LoadAndValidateConfig(bootstrap)
	// Logs go to stderr so the report can be piped.
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: log.ComponentReport,
		Output:    os.Stderr,
	})

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid data backend configuration", log.FieldError, err, log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}

	if err := run(logger, cfg.RequestTimeout, bcfg, options{
		window:    *window,
		direction: *direction,
		year:      *year,
		page:      *page,
		theme:     firstNonEmpty(*theme, cfg.DefaultTheme),
		token:     firstNonEmpty(*token, cfg.APIToken),
		summary:   *summary,
		clockSkew: cfg.ClockSkew,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "finstats-report:", err)
		os.Exit(1)
	}
}

type options struct {
	window    string
	direction string
	year      int
	page      int
	theme     string
	token     string
	summary   bool
	clockSkew time.Duration
}

func run(logger *log.Logger, timeout time.Duration, bc backend.Config, opts options) error {
	win, err := core.ParseWindow(opts.window)
	if err != nil {
		return err
	}
	dir, err := core.ParseDirection(opts.direction)
	if err != nil {
		return err
	}
	mode, err := core.ParseMode(opts.theme)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if opts.token != "" {
		ctx = api.WithToken(ctx, opts.token)
	}

	res, err := backend.NewFactory(logger).CreateBackend(ctx, bc)
	if err != nil {
		return fmt.Errorf("initialize %s backend: %w", bc.Type, err)
	}
	if res.Cleanup != nil {
		defer func() {
			if err := res.Cleanup(); err != nil {
				logger.Warn("Backend cleanup failed", log.FieldError, err)
			}
		}()
	}

	view := statsview.New(res.Source, statsview.Config{
		Location:  bc.Location,
		ClockSkew: opts.clockSkew,
	}, logger)

	// Filters are applied before the load so only one request per display
	// is outstanding when we wait.
	if _, err := view.SetWindow(ctx, win); err != nil {
		return err
	}
	if _, err := view.SetDirection(ctx, dir); err != nil {
		return err
	}
	if opts.year > 0 {
		view.SetYear(ctx, opts.year)
	}
	view.SetPage(opts.page)

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := fetch.Wait(wctx, view.Load(ctx)...); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	snap := view.Snapshot(mode)
	if snap.Unauthorized {
		return errors.New("the server rejected the session token; sign in again and pass -token")
	}
	if opts.summary {
		fmt.Println(report.Summary(snap))
		return nil
	}
	return report.New(os.Stdout).Render(snap)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

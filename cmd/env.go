package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shelfmetrics/rank-cli/internal/config"
	"github.com/shelfmetrics/rank-cli/internal/pipeline"
	"github.com/shelfmetrics/rank-cli/internal/renderer"
	"github.com/shelfmetrics/rank-cli/internal/report"
	"github.com/shelfmetrics/rank-cli/internal/store"
	"github.com/shelfmetrics/rank-cli/pkg/notion"
)

// scanEnv holds the store and scan runner shared by the check, batch, and
// serve commands.
type scanEnv struct {
	Store  store.Store
	Runner *pipeline.Runner
}

// Close releases resources held by the scan environment.
func (e *scanEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured run store.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "rank.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initScan validates config for the given mode, opens the store, runs
// migrations, and builds the scan runner. Callers should defer env.Close().
func initScan(ctx context.Context, mode string) (*scanEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	runner := pipeline.New(scanOptions(cfg), st, initRenderer(cfg))
	return &scanEnv{Store: st, Runner: runner}, nil
}

// scanOptions maps config onto scan session options.
func scanOptions(c *config.Config) pipeline.Options {
	return pipeline.Options{
		MaxPages:            c.Scan.MaxPages,
		MaxRetries:          c.Scan.MaxRetries,
		BaseBackoff:         time.Duration(c.Scan.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:          time.Duration(c.Scan.MaxBackoffMs) * time.Millisecond,
		PerPageTimeout:      time.Duration(c.Scan.PerPageTimeoutSecs) * time.Second,
		PageInterval:        time.Duration(c.Pacing.PageIntervalMs) * time.Millisecond,
		RetryLaunchFailures: c.Scan.RetryLaunchFailures,
		Marketplace:         renderer.ResolveMarketplace(c.Renderer.Locale),
	}
}

// initRenderer builds the headless browser session factory from config.
func initRenderer(c *config.Config) renderer.Factory {
	return renderer.NewRodFactory(renderer.Options{
		Headless:            c.Renderer.Headless,
		Proxy:               c.Renderer.Proxy,
		UserAgent:           c.Renderer.UserAgent,
		BlockHeavyResources: c.Renderer.BlockHeavyResources,
		SettleDelay:         time.Duration(c.Renderer.SettleDelayMs) * time.Millisecond,
		Marketplace:         renderer.ResolveMarketplace(c.Renderer.Locale),
	})
}

// newPublisher builds the Notion results publisher, or errors when Notion is
// not configured.
func newPublisher() (*report.Publisher, error) {
	if cfg.Notion.Token == "" {
		return nil, eris.New("notion token is required (RANK_NOTION_TOKEN)")
	}
	if cfg.Notion.ResultDB == "" {
		return nil, eris.New("notion result database ID is required (RANK_NOTION_RESULT_DB)")
	}
	return report.NewPublisher(notion.NewClient(cfg.Notion.Token), cfg.Notion.ResultDB), nil
}

// sessionTimeout wraps ctx with the configured whole-session deadline.
func sessionTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if cfg.Scan.SessionTimeoutSecs <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(cfg.Scan.SessionTimeoutSecs)*time.Second)
}

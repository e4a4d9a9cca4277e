package copperminer

import (
	"context"
	"fmt"

	"github.com/xmarre/Copperminer/internal/downloader"
	"github.com/xmarre/Copperminer/pkg/config"
	"github.com/xmarre/Copperminer/pkg/crawl"
	"github.com/xmarre/Copperminer/pkg/fetch"
	"github.com/xmarre/Copperminer/pkg/logger"
	"github.com/xmarre/Copperminer/pkg/proxy"
	"github.com/xmarre/Copperminer/pkg/ratelimit"
)

// app bundles the wired-up pipeline for one CLI invocation
type app struct {
	cfg    *config.Config
	log    logger.Logger
	pool   *proxy.Pool
	client *fetch.Client
}

// newApp loads configuration, initializes logging, and wires the proxy
// pool, rate limiters, and fetch client together
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	log := logger.GetLogger()

	limiters := ratelimit.NewSet(cfg.RateLimit)

	var pool *proxy.Pool
	var clientPool fetch.ProxyPool
	if cfg.Proxy.Enabled {
		ledger := proxy.LoadLedger(cfg.Proxy.LedgerPath, cfg.Proxy.GoodTTL, cfg.Proxy.BadTTL, log)
		pool = proxy.NewPool(cfg.Proxy, ledger, log)
		if err := pool.Replenish(ctx, cfg.Proxy.FastFillTarget, false); err != nil {
			return nil, fmt.Errorf("filling proxy pool: %w", err)
		}
		pool.StartAutoRefresh(cfg.Proxy.RefreshInterval)
		clientPool = pool
	}

	return &app{
		cfg:    cfg,
		log:    log,
		pool:   pool,
		client: fetch.NewClient(cfg.Fetch, clientPool, limiters, log),
	}, nil
}

// loadConfigOnly resolves configuration without starting the pipeline
func loadConfigOnly() (*config.Config, error) {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// close releases background resources
func (a *app) close() {
	if a.pool != nil {
		a.pool.StopAutoRefresh()
	}
}

// openSession loads any persisted cache for rootURL and returns a
// crawl session backed by the app's fetch client
func (a *app) openSession(rootURL string) *crawl.Session {
	return crawl.Open(rootURL, a.cfg.Cache.Dir, a.client, a.log)
}

// newDownloadPool builds the worker pool, pacing it when configured
func (a *app) newDownloadPool() *downloader.WorkerPool {
	var pacer downloader.Pacer
	if a.cfg.Download.MimicHuman {
		pacer = downloader.NewHumanPacer(0)
	}
	return downloader.NewWorkerPool(a.cfg.Download, a.client, pacer, a.log)
}

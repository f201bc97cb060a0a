package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"threadcrawl/pkg/archive"
	"threadcrawl/pkg/auth"
	"threadcrawl/pkg/config"
	"threadcrawl/pkg/crawler"
	"threadcrawl/pkg/enrich"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/metrics"
	"threadcrawl/pkg/ratelimit"
	"threadcrawl/pkg/reddit"
	"threadcrawl/pkg/scheduler"
	"threadcrawl/pkg/storage"
	"threadcrawl/pkg/ui"
)

// app holds the components shared by the crawl and batch commands.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	ledger  *ratelimit.Ledger
	storage *storage.Manager
	archive *archive.Store
	metrics *metrics.Recorder
	runner  *crawler.Runner
}

// loadConfig loads the configuration with the global flags and extra
// command flags applied, then initializes logging.
func loadConfig(cmd *cobra.Command, extra map[string]interface{}) (*config.Config, error) {
	flags := globalFlags(cmd)
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.WithField("version", version).Debug("threadcrawl starting")
	return cfg, nil
}

func newLedger(cfg *config.Config) *ratelimit.Ledger {
	return ratelimit.NewLedger(cfg.RateLimit.LedgerPath,
		ratelimit.WithCeiling(cfg.RateLimit.Ceiling),
		ratelimit.WithWindow(cfg.RateLimit.Window),
	)
}

// resolveAccount picks the credentials: configuration values first, then a
// named stored account, then the default stored account.
func resolveAccount(cfg *config.Config) (*auth.Account, error) {
	if cfg.Reddit.ClientID != "" {
		return &auth.Account{
			Name:         "config",
			ClientID:     cfg.Reddit.ClientID,
			ClientSecret: cfg.Reddit.ClientSecret,
			Username:     cfg.Reddit.Username,
			Password:     cfg.Reddit.Password,
			UserAgent:    cfg.Reddit.UserAgent,
		}, nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return nil, fmt.Errorf("initialize credential manager: %w", err)
	}

	var account *auth.Account
	if cfg.Reddit.Account != "" {
		account, err = manager.Retrieve(cfg.Reddit.Account)
	} else {
		account, err = manager.RetrieveDefault()
	}
	if err != nil {
		return nil, err
	}
	if account.UserAgent == "" {
		account.UserAgent = cfg.Reddit.UserAgent
	}
	return account, nil
}

// newApp wires the crawl pipeline. display may be nil.
func newApp(ctx context.Context, cfg *config.Config, display *ui.ProgressDisplay) (*app, error) {
	log := logger.GetLogger()

	if err := crawler.ValidateOutputDir(cfg.Output.Directory); err != nil {
		return nil, err
	}

	account, err := resolveAccount(cfg)
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			return nil, fmt.Errorf("no API credentials found; run 'threadcrawl auth login' or set %sCLIENT_ID", config.EnvPrefix)
		}
		return nil, err
	}
	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("invalid credentials for account %q: %w", account.Name, err)
	}

	httpClient, err := reddit.NewHTTPClient(cfg.Reddit.Timeout, cfg.Reddit.ProxyURL)
	if err != nil {
		return nil, err
	}

	session := auth.NewSession(account,
		auth.WithTokenURL(cfg.Reddit.TokenURL),
		auth.WithTokenCache(cfg.Auth.TokenCache),
		auth.WithRefreshMargin(cfg.Auth.RefreshMargin),
		auth.WithHTTPClient(httpClient),
		auth.WithSessionLogger(log),
	)

	a := &app{
		cfg:     cfg,
		log:     log,
		ledger:  newLedger(cfg),
		metrics: metrics.New(),
	}

	client := reddit.NewClient(session,
		reddit.WithHTTPClient(httpClient),
		reddit.WithBaseURL(cfg.Reddit.APIBaseURL),
		reddit.WithPacer(ratelimit.NewPacer(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)),
		reddit.WithRequestObserver(a.metrics),
		reddit.WithLogger(log),
	)

	a.storage, err = storage.NewManager(cfg.Output.Directory,
		storage.WithIndent(cfg.Output.Indent),
		storage.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	observers := observerList{a.metrics}
	if display != nil {
		observers = append(observers, display)
	}
	budgets := func(mode scheduler.Mode) crawler.Budget {
		return scheduler.New(a.ledger, mode,
			scheduler.WithSafetyMargin(cfg.RateLimit.SafetyMargin),
			scheduler.WithCommitEvery(cfg.RateLimit.CommitEvery),
			scheduler.WithSpread(cfg.RateLimit.SpreadFull),
			scheduler.WithLogger(log),
			scheduler.WithObserver(observers),
		)
	}

	opts := []crawler.RunnerOption{
		crawler.WithSettings(crawler.Settings{
			PageSize:    cfg.Crawl.PageSize,
			TreeDepth:   cfg.Crawl.TreeDepth,
			TreeLimit:   cfg.Crawl.TreeLimit,
			Concurrency: cfg.Crawl.Concurrency,
		}),
		crawler.WithRunnerLogger(log),
		crawler.WithWriter(a.storage),
		crawler.WithResultHook(a.metrics.ObserveTask),
		crawler.WithResultHook(func(*crawler.Result) {
			left, _ := a.ledger.Remaining()
			a.metrics.SetRemaining(left)
		}),
	}
	if display != nil {
		opts = append(opts, crawler.WithResultHook(display.TaskFinished))
	}

	if cfg.Archive.DSN != "" {
		a.archive, err = archive.Open(ctx, cfg.Archive.Driver, cfg.Archive.DSN, log)
		if err != nil {
			return nil, err
		}
		opts = append(opts, crawler.WithWriter(a.archive))
	}

	annotator, err := enrich.NewFromConfig(ctx, cfg.Enrich, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("initialize enrichment: %w", err)
	}
	if annotator != nil {
		opts = append(opts, crawler.WithEnricher(annotator))
	}

	a.runner = crawler.NewRunner(session, client, budgets, opts...)

	if addr := cfg.Metrics.ListenAddress; addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, addr, log); err != nil {
				log.WithError(err).Error("Metrics endpoint failed")
			}
		}()
	}

	return a, nil
}

// close flushes the metrics textfile and releases the archive.
func (a *app) close() {
	if path := a.cfg.Metrics.TextfilePath; path != "" && a.metrics != nil {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.log.WithError(err).Warn("Failed to write metrics textfile")
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close archive")
		}
	}
}

// observerList fans scheduler events out to several observers.
type observerList []scheduler.Observer

func (l observerList) Admitted() {
	for _, o := range l {
		o.Admitted()
	}
}

func (l observerList) Waited(d time.Duration) {
	for _, o := range l {
		o.Waited(d)
	}
}

func (l observerList) Terminated() {
	for _, o := range l {
		o.Terminated()
	}
}

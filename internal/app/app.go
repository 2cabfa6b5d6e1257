// Package app wires configuration into a ready lifecycle manager.
package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kurihiro0119/github-repo-archiver/internal/aggregator"
	"github.com/kurihiro0119/github-repo-archiver/internal/collector"
	"github.com/kurihiro0119/github-repo-archiver/internal/config"
	"github.com/kurihiro0119/github-repo-archiver/internal/lifecycle"
	"github.com/kurihiro0119/github-repo-archiver/internal/logging"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage"
	"github.com/kurihiro0119/github-repo-archiver/internal/storage/backend"
)

// App holds the components shared by the API server and the CLI
type App struct {
	Manager    *lifecycle.Manager
	Aggregator aggregator.Aggregator
	Store      *storage.CachedStore
	Logger     *zap.Logger
}

// New opens storage and builds the GitHub source and lifecycle manager described by cfg
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)

	store, err := backend.Open(cfg)
	if err != nil {
		return nil, err
	}

	retry := collector.DefaultRetryConfig()
	retry.Timeout = cfg.RequestTimeout
	retry.MaxRetries = cfg.RequestRetries

	source, err := collector.NewGitHubSource(collector.NewStaticTokenSource(cfg.GitHubToken), collector.Options{
		BaseURL:     cfg.GitHubAPIURL,
		PageSize:    cfg.PageSize,
		Retry:       retry,
		RateLimiter: collector.NewRateLimiter(100*time.Millisecond, logger.Named("ratelimit")),
		Logger:      logger.Named("github"),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create GitHub source: %w", err)
	}

	manager := lifecycle.NewManager(source, store, lifecycle.Options{
		GraceDays: cfg.GraceDays,
		Keys:      storage.NewKeys(cfg.StoragePrefix),
		Logger:    logger,
	})

	return &App{
		Manager:    manager,
		Aggregator: aggregator.NewAggregator(manager),
		Store:      store,
		Logger:     logger,
	}, nil
}

// Close releases the storage backend
func (a *App) Close() error {
	return a.Store.Close()
}

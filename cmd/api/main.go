package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kurihiro0119/github-repo-archiver/internal/api"
	"github.com/kurihiro0119/github-repo-archiver/internal/app"
	"github.com/kurihiro0119/github-repo-archiver/internal/config"
	"github.com/kurihiro0119/github-repo-archiver/internal/lifecycle"
	"github.com/kurihiro0119/github-repo-archiver/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "repo-archiver-api",
	Short: "GitHub stale repository archiver API server",
	Long: `Serves the archiver's JSON API and, when ARCHIVE_INTERVAL is set,
runs archive passes on that interval.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file, .env or .yaml (default is .env)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := serve(cmd.Context(), cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}
	return nil
}

func serve(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The store is closed only after the loop has finished its current pass
	var loops sync.WaitGroup
	defer loops.Wait()
	if cfg.ArchiveInterval > 0 {
		loop := lifecycle.NewArchiveLoop(a.Manager, cfg.ArchiveInterval, logger.Named("loop"))
		loops.Add(1)
		go func() {
			defer loops.Done()
			loop.Start(ctx)
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(a.Manager, a.Aggregator, logger.Named("api"))
	router := api.SetupRoutes(handler, logger.Named("http"))

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server",
			zap.String("addr", addr),
			zap.String("storage", cfg.StorageType),
			zap.Int("grace_days", cfg.GraceDays),
			zap.Duration("archive_interval", cfg.ArchiveInterval))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

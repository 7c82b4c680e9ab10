package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openshelf/bibcat/internal/cache"
	"github.com/openshelf/bibcat/internal/config"
	"github.com/openshelf/bibcat/internal/fetcher"
	"github.com/openshelf/bibcat/internal/genai"
	"github.com/openshelf/bibcat/internal/provider"
	"github.com/openshelf/bibcat/internal/resilience"
	"github.com/openshelf/bibcat/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "bibcat",
	Short: "Bibliographic catalog enrichment pipeline",
	Long:  "Enriches barcoded catalog items with metadata from Library of Congress, Google Books, and Open Library, reconciling conflicting answers into one canonical record per item.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// openStore opens the configured store backend and runs migrations.
func openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		st, err = store.NewSQLite(cfg.Store.Path)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// retryConfig translates the configured schedule into the retry policy.
func retryConfig() resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if cfg.Retry.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if len(cfg.Retry.ScheduleSecs) > 0 {
		schedule := make([]time.Duration, 0, len(cfg.Retry.ScheduleSecs))
		for _, secs := range cfg.Retry.ScheduleSecs {
			schedule = append(schedule, time.Duration(secs)*time.Second)
		}
		rc.Schedule = schedule
	}
	return rc
}

// newRegistry builds the adapter registry over a shared HTTP client and the
// store-backed response cache.
func newRegistry(st store.Store) *provider.Registry {
	httpClient := fetcher.NewClient(fetcher.Options{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   time.Duration(cfg.HTTP.TimeoutSecs) * time.Second,
	})
	responseCache := cache.New(st)
	rc := retryConfig()

	adapters := []provider.Adapter{
		provider.NewLibraryOfCongress(httpClient, responseCache, rc),
		provider.NewGoogleBooks(httpClient, responseCache, rc),
		provider.NewOpenLibrary(httpClient, responseCache, rc),
	}
	if cfg.Research.APIKey != "" {
		adapters = append(adapters, provider.NewGenerativeResearch(
			genai.NewClient(cfg.Research.APIKey), responseCache, rc, cfg.Research.Model))
	}
	return provider.NewRegistry(adapters...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deusflow/newsprefs/internal/config"
	"github.com/deusflow/newsprefs/internal/engine"
	"github.com/deusflow/newsprefs/internal/httpapi"
	"github.com/deusflow/newsprefs/internal/logger"
	"github.com/deusflow/newsprefs/internal/metrics"
	"github.com/deusflow/newsprefs/internal/news"
	"github.com/deusflow/newsprefs/internal/oracle"
	"github.com/deusflow/newsprefs/internal/ranking"
	"github.com/deusflow/newsprefs/internal/ratelimit"
	"github.com/deusflow/newsprefs/internal/retry"
	"github.com/deusflow/newsprefs/internal/scheduler"
	"github.com/deusflow/newsprefs/internal/sources"
	"github.com/deusflow/newsprefs/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("newsprefs stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Logger
	m := metrics.Global

	vocab := news.DefaultVocabulary()
	if cfg.VocabularyPath != "" {
		v, err := news.LoadVocabulary(cfg.VocabularyPath)
		if err != nil {
			return fmt.Errorf("load vocabulary: %w", err)
		}
		vocab = v
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver:              cfg.StoreDriver,
		FilePath:            cfg.ProfileFilePath,
		DatabaseURL:         cfg.DatabaseURL,
		SQLitePath:          cfg.SQLitePath,
		DynamoTable:         cfg.DynamoTable,
		DynamoViewsTable:    cfg.DynamoViewsTable,
		DynamoFeedbackTable: cfg.DynamoFeedbackTable,
		AWSRegion:           cfg.AWSRegion,
		AWSEndpoint:         cfg.AWSEndpoint,
		ViewHistory:         cfg.ViewHistory,
		Valkey: storage.ValkeyOptions{
			InitAddress: cfg.ValkeyInitAddress,
			Password:    cfg.ValkeyPassword,
			TLS:         cfg.ValkeyTLS,
		},
		ViewTTL: cfg.ViewHistoryTTL,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	remote, closeOracle, err := openOracle(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer closeOracle()

	opts := engine.DefaultOptions()
	opts.Summaries = cfg.SummariesEnabled
	opts.SessionTTL = cfg.SessionTTL
	opts.Ranking = ranking.DefaultConfig()
	opts.Ranking.Concurrency = cfg.OracleConcurrency
	opts.Ranking.DefaultTopK = cfg.DefaultTopK
	eng := engine.New(store, remote, vocab, opts, m, log)
	defer eng.Close()

	pool := sources.NewPool(buildSources(cfg), buildEnricher(cfg), m, log)
	if n, err := pool.Refresh(ctx); err != nil {
		log.Warn("initial source refresh failed", "error", err)
	} else {
		log.Info("initial source refresh", "items", n)
	}

	sched, err := scheduler.New(cfg.Timezone, 5*time.Minute, log)
	if err != nil {
		return err
	}
	if err := sched.Add("refresh-sources", cfg.FeedRefreshSchedule, func(ctx context.Context) error {
		_, err := pool.Refresh(ctx)
		return err
	}); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sched.Stop(stopCtx)
	}()

	srv := httpapi.New(eng, pool, m, log, cfg.RequestTimeout)
	if st, ok := remote.(httpapi.OracleStats); ok {
		srv.WithOracleStats(st)
	}
	if err := srv.ListenAndServe(ctx, ":"+cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// openOracle returns the configured remote oracle wrapped with timeouts,
// retries, a daily budget and a judgment cache. With no provider it returns
// nil and the engine answers everything locally.
func openOracle(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (oracle.Oracle, func(), error) {
	var (
		completer oracle.Completer
		closeFn   = func() {}
	)
	switch cfg.OracleProvider {
	case "gemini":
		g, err := oracle.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini oracle: %w", err)
		}
		completer = g
		closeFn = func() { g.Close() }
	case "openai":
		o, err := oracle.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("openai oracle: %w", err)
		}
		completer = o
	default:
		logger.Info("no oracle provider configured, using keyword rules")
		return nil, closeFn, nil
	}

	limiter := ratelimit.New(map[string]int{cfg.OracleProvider: cfg.MaxOracleRequests}, cfg.MaxOracleRequests, logger.Logger)
	guarded := oracle.NewGuarded(oracle.NewLLM(completer), oracle.GuardOptions{
		Name:    cfg.OracleProvider,
		Timeout: cfg.OracleTimeout,
		Retry: retry.Config{
			MaxAttempts: cfg.OracleRetryAttempts,
			Delay:       cfg.OracleRetryDelay,
			Backoff:     true,
		},
		Limiter:  limiter,
		CacheTTL: cfg.OracleCacheTTL,
		Metrics:  m,
		Logger:   logger.Logger,
	})
	logger.Info("oracle ready", "provider", cfg.OracleProvider, "daily_budget", cfg.MaxOracleRequests)
	return guarded, func() {
		guarded.Close()
		closeFn()
	}, nil
}

func buildSources(cfg *config.Config) []sources.Source {
	feeds, err := sources.LoadFeeds(cfg.FeedsConfigPath)
	if err != nil {
		logger.Warn("can't load feed list, using defaults", "path", cfg.FeedsConfigPath, "error", err)
		feeds = nil
	}
	srcs := []sources.Source{sources.NewRSS(feeds, logger.Logger)}
	if cfg.HackerNewsEnabled {
		srcs = append(srcs, sources.NewHackerNews(cfg.HackerNewsLimit, logger.Logger))
	}
	return srcs
}

func buildEnricher(cfg *config.Config) *sources.Enricher {
	if !cfg.ScrapeEnabled {
		return nil
	}
	return sources.NewEnricher(cfg.ScrapeConcurrency, cfg.ScrapeMaxArticles, logger.Logger)
}

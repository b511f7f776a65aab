package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/researchforge/researchd/internal/agents"
	cfg "github.com/researchforge/researchd/internal/config"
	"github.com/researchforge/researchd/internal/executor"
	"github.com/researchforge/researchd/internal/httpapi"
	"github.com/researchforge/researchd/internal/llm"
	"github.com/researchforge/researchd/internal/orchestrator"
	"github.com/researchforge/researchd/internal/search"
	"github.com/researchforge/researchd/internal/storage"
	"github.com/researchforge/researchd/internal/task"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	conf, err := cfg.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// LLM collaborator
	catalog, err := llm.LoadCatalog(conf.LLM.CatalogPath)
	if err != nil {
		logger.Fatal("Failed to load model catalog", zap.Error(err))
	}
	llmClient := llm.NewHTTPClient(llm.Options{
		BaseURL: conf.LLM.BaseURL,
		APIKey:  conf.LLM.APIKey,
		Timeout: conf.LLM.LLMTimeout(),
		Catalog: catalog,
	}, logger)

	// Search provider chain, ordered by configuration
	providers, err := buildProviders(conf, logger)
	if err != nil {
		logger.Fatal("Failed to build provider chain", zap.Error(err))
	}

	cache, err := buildCache(conf, logger)
	if err != nil {
		logger.Fatal("Failed to initialize search cache", zap.Error(err))
	}
	gateway := search.NewGateway(providers, cache, search.GatewayConfig{
		MaxAttempts:  conf.Search.MaxAttempts,
		BackoffBase:  time.Duration(conf.Search.BackoffBaseMs) * time.Millisecond,
		BackoffMax:   time.Duration(conf.Search.BackoffMaxMs) * time.Millisecond,
		NumResults:   conf.Search.NumResults,
		CacheTTL:     time.Duration(conf.Search.CacheTTLMin) * time.Minute,
		RateLimitRPS: conf.Search.RateLimitRPS,
	}, logger)

	// Pipeline stages
	planner := agents.NewPlanner(llmClient, conf.LLM.MaxQueries, logger)
	summarizer := agents.NewSummarizer(llmClient, logger)
	writer := agents.NewWriter(llmClient, logger)
	exec := executor.New(gateway, summarizer, conf.Executor.Workers, logger)

	reports, err := storage.New(conf.Storage.ReportsDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize report storage", zap.Error(err))
	}

	store := task.NewStore()
	manager := orchestrator.New(store, planner, writer, exec, reports, logger)

	// HTTP API
	mux := http.NewServeMux()
	handler := httpapi.NewResearchHandler(manager, reports, conf.Providers.Order, logger)
	handler.RegisterRoutes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", conf.Server.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", conf.Server.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", conf.Server.MetricsPort),
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Metrics server listening", zap.Int("port", conf.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown: stop accepting requests, let in-flight tasks finish
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(ctx)
	_ = metricsServer.Shutdown(ctx)
	manager.Wait()
	logger.Info("Shutdown complete")
}

// buildProviders assembles the fallback chain from configuration. Providers
// whose API keys are missing are skipped with a warning, mirroring how the
// chain degrades at runtime.
func buildProviders(conf *cfg.Config, logger *zap.Logger) ([]search.Provider, error) {
	timeout := conf.Providers.ProviderTimeout()
	var chain []search.Provider
	for _, name := range conf.Providers.Order {
		switch name {
		case "serper":
			if conf.Providers.SerperAPIKey == "" {
				logger.Warn("Skipping serper provider: no API key configured")
				continue
			}
			chain = append(chain, search.NewSerperProvider(conf.Providers.SerperAPIKey, "", timeout))
		case "tavily":
			if conf.Providers.TavilyAPIKey == "" {
				logger.Warn("Skipping tavily provider: no API key configured")
				continue
			}
			chain = append(chain, search.NewTavilyProvider(conf.Providers.TavilyAPIKey, "", timeout))
		case "duckduckgo":
			chain = append(chain, search.NewDuckDuckGoProvider("", timeout))
		case "simulated":
			chain = append(chain, search.NewSimulatedProvider())
		default:
			return nil, fmt.Errorf("unknown search provider %q", name)
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no usable search providers configured")
	}
	return chain, nil
}

// buildCache selects the cache backend. Redis is shared across instances;
// local is per-process.
func buildCache(conf *cfg.Config, logger *zap.Logger) (search.Cache, error) {
	if conf.Search.CacheBackend != "redis" {
		return search.NewLocalCache(conf.Search.CacheCapacity), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         conf.Search.RedisAddr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("Using redis search cache", zap.String("addr", conf.Search.RedisAddr))
	return search.NewRedisCache(client), nil
}

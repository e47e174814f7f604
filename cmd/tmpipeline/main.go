package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/lingvo-tools/tmpipeline/internal/batch"
	"github.com/lingvo-tools/tmpipeline/internal/config"
	"github.com/lingvo-tools/tmpipeline/internal/dedup"
	"github.com/lingvo-tools/tmpipeline/internal/httpapi"
	"github.com/lingvo-tools/tmpipeline/internal/limiter"
	"github.com/lingvo-tools/tmpipeline/internal/persistence"
	"github.com/lingvo-tools/tmpipeline/internal/provider"
	"github.com/lingvo-tools/tmpipeline/internal/similarity"
	"github.com/lingvo-tools/tmpipeline/internal/tm"
	"github.com/lingvo-tools/tmpipeline/internal/validation"
	"github.com/lingvo-tools/tmpipeline/pkg/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	store, err := persistence.NewSQLiteStore(cfg.System.DBPath)
	if err != nil {
		log.Fatal("Failed to open database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, lang := range []struct{ code, name string }{
		{cfg.System.SourceLanguage.String(), "default source"},
		{cfg.System.TargetLanguage.String(), "default target"},
	} {
		if _, err := store.EnsureLanguage(ctx, lang.code, lang.name); err != nil {
			log.Fatal("Failed to register language %s: %v", lang.code, err)
		}
	}

	scorer := similarity.NewScorerPool(cfg.TM.ScorerWorkers)
	defer scorer.Stop()
	matcher := tm.NewMatcher(store, tm.MatcherConfig{
		MinSimilarity:       cfg.TM.MinSimilarity,
		AutoAcceptThreshold: cfg.TM.AutoAccept,
		MaxResults:          cfg.TM.MaxResults,
		CandidateLimit:      cfg.TM.CandidateLimit,
		ScoreTimeout:        30 * time.Second,
	}, scorer)

	dedupCache := dedup.NewCache(cfg.Dedup.Capacity, cfg.Dedup.TTL)

	limiters := map[string]*limiter.RateLimiter{
		"openai": limiter.NewRateLimiter(limiter.RateLimiterConfig{
			RequestsPerMinute: cfg.Limits.OpenAIRequestsPerMinute,
			TokensPerMinute:   cfg.Limits.OpenAITokensPerMinute,
		}),
		"gemini": limiter.NewRateLimiter(limiter.RateLimiterConfig{
			RequestsPerMinute: cfg.Limits.GeminiRequestsPerMinute,
			TokensPerMinute:   cfg.Limits.GeminiTokensPerMinute,
		}),
	}
	defer func() {
		for _, rl := range limiters {
			rl.Close()
		}
	}()

	orch := batch.NewOrchestrator(batch.Deps{
		Units:        store,
		Batches:      store,
		Translations: store,
		Matcher:      matcher,
		Dedup:        dedupCache,
		Semaphore:    limiter.NewSemaphore(cfg.Limits.MaxConcurrentCalls),
		Limiters:     limiters,
		Providers: map[string]provider.Service{
			"openai": provider.NewOpenAIService(cfg.Providers.OpenAIAPIURL),
			"gemini": provider.NewGeminiService(),
		},
		Keys:      cfg,
		Validator: validation.NewValidator(),
	}, batch.Config{
		SubBatchSize:   cfg.Limits.SubBatchSize,
		UnitsPerMinute: cfg.Limits.UnitsPerMinute,
	})

	maintenance := cron.New()
	if _, err := maintenance.AddFunc(cfg.Dedup.MaintenanceCron, func() {
		pruned := dedupCache.Prune()
		count, err := store.TMEntryCount(context.Background())
		if err != nil {
			log.Warn("Maintenance: reading TM size failed: %v", err)
			return
		}
		log.Info("Maintenance: dedup cache %d entries (%d pruned), TM holds %d entries",
			dedupCache.Len(), pruned, count)
	}); err != nil {
		log.Fatal("Failed to schedule maintenance: %v", err)
	}
	maintenance.Start()
	defer maintenance.Stop()

	srv := httpapi.NewServer(cfg, store, orch)
	go func() {
		log.Info("Listening on %s", cfg.System.HTTPAddr)
		if err := srv.ListenAndServe(cfg.System.HTTPAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	orch.Shutdown("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown: %v", err)
	}
}

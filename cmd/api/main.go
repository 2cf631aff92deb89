package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"genstudio/internal/billing"
	"genstudio/internal/catalog"
	"genstudio/internal/chat"
	"genstudio/internal/domain"
	"genstudio/internal/events"
	"genstudio/internal/http/handlers"
	"genstudio/internal/http/httpapi"
	"genstudio/internal/infra"
	"genstudio/internal/infra/credentials"
	"genstudio/internal/jobs"
	"genstudio/internal/media"
	"genstudio/internal/pipeline"
	"genstudio/internal/providers/describe"
	"genstudio/internal/providers/runway"
	"genstudio/internal/storage"
	"genstudio/internal/store/pgstore"
	"genstudio/internal/store/sqlitestore"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session store and credential sources
	keys := credentials.Chain{credentials.Env{
		domain.CredentialRunway: cfg.RunwayAPIKey,
		domain.CredentialOpenAI: cfg.OpenAIAPIKey,
		domain.CredentialGemini: cfg.GeminiAPIKey,
	}}
	var store domain.SessionStore
	switch cfg.StoreDriver {
	case infra.StorePostgres:
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		runner := infra.NewSQLRunner(dbpool, logger)
		store = pgstore.New(runner)
		keys = append(keys, credentials.NewStore(runner))
	default:
		sqlite, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open sqlite store")
		}
		defer sqlite.Close()
		store = sqlite
	}

	files, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare storage")
	}

	// Provider, output resolution and job events
	provider := runway.NewClient(runway.Options{
		Credentials: keys,
		BaseURL:     cfg.RunwayBaseURL,
		APIVersion:  cfg.RunwayAPIVersion,
		Logger:      &logger,
	})
	hub := events.NewHub(cfg.CORSAllowedOrigins, &logger)
	sinks := []events.Sink{hub}
	if cfg.RedisAddr != "" {
		rdb, err := events.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, job events stay in-process")
		} else {
			defer rdb.Close()
			sinks = append(sinks, events.NewRedisSink(rdb, cfg.RedisChannel))
		}
	}
	jobRunner := jobs.NewRunner(provider, jobs.Options{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.MaxPollAttempts,
		Resolver:    media.NewResolver(files, media.Options{Quality: cfg.WebPQuality, Logger: &logger}),
		Observers:   []jobs.Observer{events.NewBus(&logger, sinks...)},
		Logger:      &logger,
	})

	describer, err := describe.New(cfg.DescriptionProvider,
		describe.OpenAIOptions{Credentials: keys, Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIBaseURL},
		describe.GeminiOptions{Credentials: keys, Model: cfg.GeminiModel},
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build description provider")
	}

	models := catalog.Default()
	coordinator := chat.NewCoordinator(chat.Options{
		Store:   store,
		Catalog: models,
		Runner:  jobRunner,
		Pipeline: pipeline.New(pipeline.Options{
			Catalog:     models,
			Describer:   describer,
			Runner:      jobRunner,
			Store:       store,
			PromptLimit: cfg.PromptLimit,
			Logger:      &logger,
		}),
		PromptLimit: cfg.PromptLimit,
		Logger:      &logger,
	})
	if _, err := coordinator.Bootstrap(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap chats")
	}

	var balance handlers.BalanceReader
	watcher, err := billing.NewWatcher(provider, cfg.BalanceRefreshSpec, &logger)
	if err != nil {
		logger.Warn().Err(err).Msg("balance refresh disabled")
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn().Err(err).Msg("balance refresh disabled")
	} else {
		defer watcher.Stop()
		balance = watcher
	}

	app := handlers.NewApp(coordinator, models, balance, &logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:         logger,
		DefaultLocale:  cfg.DefaultLocale,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Events:         hub,
		StaticDir:      files.BasePath(),
		SubmitLimit:    30,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("store", cfg.StoreDriver).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to stop jobs")
	}
	logger.Info().Msg("server stopped")
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/okoalabs/pesabot/core/admin"
	"github.com/okoalabs/pesabot/core/config"
	"github.com/okoalabs/pesabot/core/conversation"
	"github.com/okoalabs/pesabot/core/dispatch"
	"github.com/okoalabs/pesabot/core/session"
	"github.com/okoalabs/pesabot/integration/bitsacco"
	"github.com/okoalabs/pesabot/integration/bridge"
	"github.com/okoalabs/pesabot/integration/coingecko"
	"github.com/okoalabs/pesabot/integration/openai"
	"github.com/okoalabs/pesabot/pkg/ratelimiter"
)

type appConfig struct {
	RedisURL string `env:"REDIS_URL"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	var appCfg appConfig
	config.MustLoad(&appCfg)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(appCfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, appCfg, logger); err != nil {
		logger.Error("engine exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, appCfg appConfig, logger *slog.Logger) error {
	var (
		sessionCfg      session.Config
		bitsaccoCfg     bitsacco.Config
		coingeckoCfg    coingecko.Config
		openaiCfg       openai.Config
		conversationCfg conversation.Config
		dispatchCfg     dispatch.Config
		bridgeCfg       bridge.Config
		adminCfg        admin.Config
	)
	config.MustLoad(&sessionCfg)
	config.MustLoad(&bitsaccoCfg)
	config.MustLoad(&coingeckoCfg)
	config.MustLoad(&openaiCfg)
	config.MustLoad(&conversationCfg)
	config.MustLoad(&dispatchCfg)
	config.MustLoad(&bridgeCfg)
	config.MustLoad(&adminCfg)

	g, ctx := errgroup.WithContext(ctx)

	// Session storage: Redis when configured, in-process otherwise.
	var sessions session.Store
	var readiness []func(context.Context) error
	if appCfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(appCfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(redisOpts)
		defer client.Close()

		store := session.NewRedisStore(client, sessionCfg)
		if err := store.Healthcheck(ctx); err != nil {
			return err
		}
		sessions = store
		readiness = append(readiness, store.Healthcheck)
		logger.Info("session store ready", slog.String("backend", "redis"))
	} else {
		store := session.NewMemoryStore(sessionCfg,
			session.WithMemoryStoreLogger(logger.With(slog.String("component", "session_store"))))
		sessions = store
		readiness = append(readiness, store.Healthcheck)
		g.Go(store.Run(ctx))
		logger.Info("session store ready", slog.String("backend", "memory"))
	}

	limiterStore := ratelimiter.NewMemoryStore(
		ratelimiter.WithMemoryStoreLogger(logger.With(slog.String("component", "ratelimiter"))))
	g.Go(limiterStore.Run(ctx))

	limiter := ratelimiter.NewLimiter(limiterStore, ratelimiter.DefaultPolicies(),
		ratelimiter.WithLogger(logger.With(slog.String("component", "ratelimiter"))))

	api, err := bitsacco.New(bitsaccoCfg,
		bitsacco.WithLogger(logger.With(slog.String("component", "bitsacco"))))
	if err != nil {
		return err
	}
	if err := api.Healthcheck(ctx); err != nil {
		logger.Warn("bitsacco healthcheck failed at startup", slog.String("error", err.Error()))
	}

	prices := coingecko.New(coingeckoCfg,
		coingecko.WithLogger(logger.With(slog.String("component", "coingecko"))))

	responder := openai.NewResponder(openaiCfg,
		openai.WithLogger(logger.With(slog.String("component", "responder"))))
	if !responder.Enabled() {
		logger.Warn("OPENAI_API_KEY not set, free-form replies degrade to the fallback hint")
	}

	machine := conversation.NewMachine(conversationCfg, api, prices, responder,
		conversation.WithLogger(logger.With(slog.String("component", "conversation"))))

	transport := bridge.New(bridgeCfg,
		bridge.WithLogger(logger.With(slog.String("component", "bridge"))))
	g.Go(transport.Run(ctx))

	loop := dispatch.NewLoop(dispatchCfg, transport, sessions, machine, limiter,
		dispatch.WithLogger(logger.With(slog.String("component", "dispatch"))))
	g.Go(loop.Run(ctx))

	readiness = append(readiness, limiterStore.Healthcheck, api.Healthcheck)

	adminServer := admin.NewServer(adminCfg, loop,
		admin.WithLogger(logger.With(slog.String("component", "admin"))),
		admin.WithReadinessChecks(readiness...))
	g.Go(adminServer.Run(ctx))

	logger.Info("pesabot started")
	return g.Wait()
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

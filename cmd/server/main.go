package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go.agile6.com/mcpgw/api"
	"go.agile6.com/mcpgw/audit"
	"go.agile6.com/mcpgw/auth"
	"go.agile6.com/mcpgw/config"
	"go.agile6.com/mcpgw/internal/metrics"
	"go.agile6.com/mcpgw/store"
	"go.agile6.com/mcpgw/store/redisstore"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := newLogger(cfg)
	logger.Info().
		Str("http_port", cfg.HTTPPort).
		Str("hosted_domain", cfg.HostedDomain).
		Bool("token_store", cfg.HasTokenStore()).
		Msg("Starting mcpgw server")

	metrics.Init(prometheus.DefaultRegisterer)

	ctx := context.Background()

	// The backing store is optional: without it the OAuth path still
	// works, and token operations report a configuration error.
	var tokenStore store.Store
	var redisClient *redis.Client
	if cfg.HasTokenStore() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		tokenStore = redisstore.New(redisClient, cfg.RedisKeyPrefix)
		defer func() { _ = redisClient.Close() }()
	} else {
		logger.Warn().Msg("No token store configured; MCP token authentication is disabled")
	}

	sink := audit.NewLogSink(logger.With().Str("component", "audit").Logger())
	manager := auth.NewTokenManager(tokenStore, sink, logger.With().Str("component", "tokens").Logger())
	arbitrator := auth.NewArbitrator(manager, cfg.HostedDomain, sink, logger.With().Str("component", "auth").Logger())

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())

	api.NewAdminAPI(arbitrator, manager, logger).RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		if redisClient != nil {
			if err := redisClient.Ping(c.Request().Context()).Err(); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Forced shutdown")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = zerolog.New(os.Stdout)
	if cfg.LogPretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return out.Level(level).With().Timestamp().Logger()
}

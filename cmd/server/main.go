package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"safety-kpi-service/internal/cache"
	"safety-kpi-service/internal/config"
	"safety-kpi-service/internal/db"
	apihttp "safety-kpi-service/internal/http"
	"safety-kpi-service/internal/repository"
	"safety-kpi-service/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := newLogger(cfg.Log)

	gdb, err := db.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	repo := repository.NewDetectionRepository(gdb)
	closeCallService := service.NewCloseCallService(repo, log.With().Str("component", "close_call").Logger())
	safetyService := service.NewSafetyService(repo, log.With().Str("component", "safety").Logger())
	aggregationService := service.NewAggregationService(repo, log.With().Str("component", "aggregation").Logger())

	var kpiCache *cache.KPICache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		kpiCache = cache.New(
			rdb,
			cfg.KPI.CachePrefix,
			map[string]time.Duration{
				"1m": time.Minute,
				"5m": 5 * time.Minute,
				"1h": time.Hour,
			},
			time.Duration(cfg.KPI.CacheTTLSeconds)*time.Second,
			log.With().Str("component", "cache").Logger(),
		)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("KPI cache enabled")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(apihttp.RequestID())
	r.Use(apihttp.RequestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.HTTP.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	handler := apihttp.NewHandler(closeCallService, safetyService, aggregationService, repo, kpiCache, cfg, log)
	handler.Register(r, apihttp.JWTAuth(cfg.Auth.Secret))

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

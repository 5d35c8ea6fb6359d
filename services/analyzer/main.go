// Command analyzer serves the log analysis API: it parses incoming log
// lines, extracts behavioral features backed by Redis activity timelines,
// scores them with the ensemble model and persists what it finds.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"logshield/pkg/aggregate"
	"logshield/pkg/alert"
	"logshield/pkg/config"
	"logshield/pkg/features"
	"logshield/pkg/modelstore"
	"logshield/pkg/predict"
	"logshield/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (or LOGSHIELD_CONFIG)")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "analyzer").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	redisStore, err := aggregate.NewRedisStore(aggregate.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("connect redis")
	}
	aggregator := aggregate.New(redisStore, aggregate.Config{}, logger)

	geo := features.NewStaticResolver(cfg.Features.HomeCountry, features.StaticGeoEntry{}, nil)
	extractor := features.NewExtractor(aggregator, geo, features.Config{
		KnownIPs:           cfg.Features.KnownIPs,
		KnownCountries:     cfg.Features.KnownCountries,
		PrivilegedUsers:    cfg.Features.PrivilegedUsers,
		SensitiveEndpoints: cfg.Features.SensitiveEndpoints,
		KnownUserAgents:    cfg.Features.KnownUserAgents,
	})

	models, err := modelstore.New(cfg.Model.Dir, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.Model.Dir).Msg("open model store")
	}
	predictor := predict.NewService(models, logger)
	if err := predictor.SetOverrides(predict.Overrides{
		Weights:    cfg.Ensemble.Weights,
		Thresholds: cfg.Ensemble.Thresholds,
	}); err != nil {
		logger.Fatal().Err(err).Msg("apply ensemble configuration")
	}
	if err := predictor.LoadLatest(); err != nil {
		logger.Warn().Err(err).Msg("no model loaded at startup; POST /api/v1/models/reload after training")
	}

	var store *storage.Store
	if cfg.Database.Enabled {
		store, err = storage.Open(cfg.Database.Config)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect postgres")
		}
		defer store.Close()
		if err := store.Migrate(); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	} else {
		logger.Info().Msg("persistence disabled; anomalies are not stored")
	}

	notifier := alert.NewNotifier(cfg.Alert)

	pipeline := &Pipeline{
		extractor: extractor,
		predictor: predictor,
		store:     store,
		notifier:  notifier,
		log:       logger,
	}
	srv := &server{
		pipeline:  pipeline,
		predictor: predictor,
		store:     store,
		log:       logger,
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("analyzer listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	_ = redisStore.Close()
}

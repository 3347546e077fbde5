package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/meshwatch/meshcollect/internal/app"
	"github.com/meshwatch/meshcollect/internal/config"
	"github.com/meshwatch/meshcollect/internal/decode"
	"github.com/meshwatch/meshcollect/internal/mqtt"
	"github.com/meshwatch/meshcollect/internal/observability"
	"github.com/meshwatch/meshcollect/internal/pipeline"
	"github.com/meshwatch/meshcollect/internal/route"
	"github.com/meshwatch/meshcollect/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.New(*configPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	logger := observability.NewLogger(cfg.LogLevel, observability.WithJSON(cfg.LogJSON))
	slog.SetDefault(logger)

	metrics := observability.NewMetrics(observability.WithNamespace(cfg.MetricsNamespace))

	mqttCfg := app.BuildMQTTConfig(cfg)
	client, err := mqtt.NewClient(mqttCfg)
	if err != nil {
		logger.Error("failed to initialise MQTT client", slog.Any("error", err))
		return
	}

	gateway, err := storage.NewSQLGateway(
		storage.SQLConfig{Path: cfg.DatabaseFile},
		storage.WithLogger(logger.With(slog.String("component", "storage"))),
		storage.WithMetrics(metrics),
	)
	if err != nil {
		logger.Error("failed to initialise storage gateway", slog.Any("error", err))
		return
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			logger.Error("storage close error", slog.Any("error", err))
		}
	}()

	router := route.New(
		gateway,
		route.WithLogger(logger.With(slog.String("component", "route"))),
		route.WithMetrics(metrics),
	)

	pipe := pipeline.New(
		client,
		decode.NewMeshDecoder(),
		router,
		pipeline.WithLogger(logger.With(slog.String("component", "pipeline"))),
		pipeline.WithMetrics(metrics),
	)

	obsServer := observability.NewServer(observability.ServerConfig{
		Address:     cfg.ObservabilityAddress,
		ServiceName: cfg.Name,
		Logger:      logger.With(slog.String("component", "observability")),
		Metrics:     metrics,
	})
	go obsServer.Run(ctx)

	go func() {
		for err := range pipe.Errors() {
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			logger.Error("pipeline error", slog.Any("error", err))
		}
	}()

	logger.Info("meshcollect starting",
		slog.String("broker_host", mqttCfg.BrokerHost),
		slog.Int("broker_port", mqttCfg.BrokerPort),
		slog.String("root_topic", mqttCfg.RootTopic),
		slog.String("database_file", cfg.DatabaseFile),
	)

	if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pipeline stopped with error", slog.Any("error", err))
	}

	logger.Info("meshcollect stopped")
}

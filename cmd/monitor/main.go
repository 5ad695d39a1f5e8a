package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iotmon/internal/config"
	"iotmon/internal/logger"
	"iotmon/internal/monitor"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Init("info")
			logger.Logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
		}
		cfg = loaded
	}

	logger.Init(cfg.LogLevel)
	log := logger.WithComponent("main")

	m, err := monitor.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize monitor")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("monitor exited")
		}
		return
	}

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out")
	}
}

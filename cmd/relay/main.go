package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codeclash/proctor/activity"
	"github.com/codeclash/proctor/conf"
	"github.com/codeclash/proctor/http"
	"github.com/codeclash/proctor/metrics"
	"github.com/codeclash/proctor/signaling"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfgPath := os.Getenv("RELAY_CONFIG")
	if cfgPath == "" {
		cfgPath = "relay.toml"
	}
	cfg, err := conf.LoadRelayConfig(cfgPath)
	if err != nil {
		slog.Error("failed to load relay config", "error", err)
		os.Exit(1)
	}

	jwtKey, err := cfg.JwtKey()
	if err != nil {
		slog.Error("failed to resolve jwt key", "error", err)
		os.Exit(1)
	}

	var sink activity.Sink = activity.DiscardSink{}
	if cfg.BackendBaseURL != "" {
		sink = activity.NewBackendSink(cfg.BackendBaseURL)
	}

	var archiver signaling.Archiver
	if cfg.S3Bucket != "" {
		archive, err := activity.NewS3Archive(cfg.S3Region, cfg.S3Bucket)
		if err != nil {
			slog.Error("failed to init s3 activity archive", "error", err)
			os.Exit(1)
		}
		archiver = archive
	}

	relayMetrics := metrics.NewRelayMetrics(prometheus.DefaultRegisterer)

	hub := signaling.NewHub(sink, archiver, relayMetrics)
	httpServer := http.NewHttpServer(hub, jwtKey, cfg.AllowedOrigins)

	log.Printf("Starting relay on %s", cfg.ListenAddr)
	err = httpServer.Start(cfg.ListenAddr)
	log.Printf("Relay stopped with error: %v", err)
}

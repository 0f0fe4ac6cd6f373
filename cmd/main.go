package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"diabetesapi/config"
	qhttp "diabetesapi/http"
	"diabetesapi/logger"
	"diabetesapi/monitoring"
	"diabetesapi/serving"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default $CONFIG_PATH or ./config.yaml)")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	// 1. Load config
	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{
		Env:        cfg.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Load model
	log.Info("Starting Diabetes Prediction API", zap.String("env", cfg.Env))
	service, err := serving.New(serving.Options{
		ModelPath:    cfg.Model.Path,
		MetadataPath: cfg.Model.MetadataPath,
		CacheSize:    cfg.Cache.Size,
		Logger:       log,
	})
	if err != nil {
		log.Fatal("Failed to create prediction service", zap.Error(err))
	}
	if err := service.Load(ctx); err != nil {
		if cfg.Model.FailFast {
			log.Fatal("Model load failed", zap.Error(err))
		}
		log.Error("Serving without a model; /predict will return 503", zap.Error(err))
	}

	// 3. Metrics and prediction stream
	monitoring.RegisterMetrics()
	prometheus.MustRegister(monitoring.NewModelLoadedGauge(service.Ready))
	service.AddObserver(monitoring.PredictionRecorder{})

	hub := monitoring.NewHub(log, cfg.HTTP.AllowedOrigins)
	go hub.Run(ctx)
	service.AddObserver(hub)

	if cfg.Model.Watch {
		watcher, err := serving.NewArtifactWatcher(log, nil, cfg.Model.Path, cfg.Model.MetadataPath)
		if err != nil {
			log.Warn("Artifact watcher disabled", zap.Error(err))
		} else {
			defer watcher.Close()
			go watcher.Run(ctx)
		}
	}

	// 4. Start HTTP server
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:            cfg.HTTP.Port,
		ReadTimeout:     time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:    time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
		ShutdownTimeout: time.Duration(cfg.HTTP.ShutdownSec) * time.Second,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
	}, qhttp.Dependencies{
		Service: service,
		Hub:     hub,
		Metrics: monitoring.Handler(),
		Logger:  log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	log.Info("API ready", zap.String("addr", server.Addr()), zap.String("model_state", service.State().String()))

	// 5. Handle graceful shutdown
	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}

	if err := server.Stop(context.Background()); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	log.Info("Exiting", zap.Int64("prediction_count", service.PredictionCount()))
}

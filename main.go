package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"buildenergy/config"
	"buildenergy/db"
	qhttp "buildenergy/http"
	"buildenergy/inference"
	"buildenergy/logging"
	"buildenergy/ml"
	"buildenergy/monitoring"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("exiting")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// 2. Load both models before anything serves traffic
	store, err := ml.Load(cfg.Models.HeatingPath, cfg.Models.CoolingPath)
	if err != nil {
		var loadErr *ml.ModelLoadError
		if errors.As(err, &loadErr) {
			logger.Error("model load failed",
				zap.String("target", loadErr.Target),
				zap.String("path", loadErr.Path),
				zap.Error(loadErr.Err),
			)
		}
		return err
	}
	for _, info := range store.Info() {
		logger.Info("model loaded",
			zap.String("target", info.Target),
			zap.String("path", info.Path),
			zap.String("model_type", string(info.ModelType)),
			zap.Int("trees", info.Trees),
			zap.String("sha256", info.SHA256),
		)
	}

	// 3. Record the loads in the ledger
	var ledger qhttp.ModelLedger
	if cfg.Database.Path != "" {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer database.Close()
		recordLoads(database, store, logger)
		ledger = database
		logger.Info("ledger opened", zap.String("path", cfg.Database.Path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetricsCollector()
	go metrics.CollectSystemMetrics(ctx, 10*time.Second)

	if cfg.Models.Watch {
		watcher, err := monitoring.NewArtifactWatcher(map[string]string{
			ml.TargetHeating: cfg.Models.HeatingPath,
			ml.TargetCooling: cfg.Models.CoolingPath,
		}, logger, metrics)
		if err != nil {
			logger.Warn("artifact watcher disabled", zap.Error(err))
		} else {
			go watcher.Run(ctx)
		}
	}

	service := inference.NewService(store,
		inference.WithDomainValidation(cfg.Inference.ValidateDomain),
		inference.WithCache(cfg.Inference.CacheSize),
		inference.WithLogger(logger),
		inference.WithMetrics(metrics),
	)
	handler := qhttp.NewHandler(service, ledger, metrics, logger)

	// 4. Start HTTP server
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, handler, metrics, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// 5. Handle graceful shutdown
	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

func recordLoads(database *db.Store, store *ml.ModelStore, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, info := range store.Info() {
		err := database.RecordModelLoad(ctx, db.ModelLoad{
			Target:        info.Target,
			Path:          info.Path,
			SHA256:        info.SHA256,
			ModelType:     string(info.ModelType),
			FormatVersion: info.FormatVersion,
			Trees:         info.Trees,
			Features:      info.FeatureNames,
			LoadedAt:      info.LoadedAt,
		})
		if err != nil {
			logger.Warn("record model load", zap.String("target", info.Target), zap.Error(err))
		}
	}
}

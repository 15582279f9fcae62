package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EmilMarian/vast/pkg/api"
	"github.com/EmilMarian/vast/pkg/config"
	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/EmilMarian/vast/pkg/generator"
	"github.com/EmilMarian/vast/pkg/logging"
	"github.com/EmilMarian/vast/pkg/metrics"
	"github.com/EmilMarian/vast/pkg/registry"
	"github.com/EmilMarian/vast/pkg/simulator"
	"github.com/EmilMarian/vast/pkg/storage"
	"github.com/EmilMarian/vast/pkg/utils"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", ".", "path to the configuration file directory")
	flag.Parse()

	cfg, err := config.LoadDataServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	logrusWrapper := logging.NewLogrus(cfg.Log.Level, cfg.Log.JSON, os.Stdout)
	logger := logrusWrapper.Get("dataserver")

	reg := registry.NewRegistry(logrusWrapper.Get("registry"))
	if err := reg.Load(cfg.Registry.File); err != nil {
		logger.WithFields(logrus.Fields{"file": cfg.Registry.File, "error": err}).Warn("starting with empty registry")
	}
	if cfg.Registry.SeedFile != "" {
		seedRegistry(cfg.Registry.SeedFile, reg, logger)
	}

	store := storage.NewMemoryStore(cfg.History.Capacity)
	gen := generator.New(reg, simulator.NewRandomSource(), logrusWrapper.Get("generator"))

	var redisHistory *storage.RedisHistory
	if cfg.Redis.Enabled {
		redisHistory, err = storage.NewRedisHistory(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, time.Duration(cfg.Redis.TTL)*time.Second)
		if err != nil {
			logger.WithFields(logrus.Fields{"error": err}).Warn("redis history disabled")
			redisHistory = nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Discovery.Enabled {
		lister := registry.NewHTTPLister(cfg.Discovery.Endpoints)
		reconciler := registry.NewReconciler(lister, reg, logrusWrapper.Get("discovery"), time.Duration(cfg.Discovery.Interval)*time.Second)
		go reconciler.Run(ctx)
	}

	go generationLoop(ctx, cfg, reg, store, redisHistory, gen, logger)
	go expiryLoop(ctx, cfg, reg, gen, logger)

	handler := api.NewDataServerHandler(reg, store, gen, logrusWrapper.Get("api"))
	if redisHistory != nil {
		handler.UseSharedHistory(redisHistory)
	}
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: api.NewDataServerRouter(handler),
	}
	go func() {
		logger.WithFields(logrus.Fields{"port": cfg.HTTP.Port}).Info("data server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"error": err}).Fatal("data server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"error": err}).Warn("server shutdown failed")
	}
	if err := reg.Save(cfg.Registry.File); err != nil {
		logger.WithFields(logrus.Fields{"error": err}).Error("registry save failed")
	}
	if redisHistory != nil {
		redisHistory.Close()
	}
	logger.Info("stopped")
}

// seedRegistry registers the sensors declared in a yaml seed file.
// Sensors already known from the registry file keep their creation
// time and position.
func seedRegistry(seedFile string, reg *registry.Registry, logger *logrus.Entry) {
	seeds, err := utils.ConfigurationParser(seedFile, map[string]entities.Sensor{})
	if err != nil {
		logger.WithFields(logrus.Fields{"file": seedFile, "error": err}).Warn("seed file not loaded")
		return
	}
	for id, sensor := range seeds {
		sensor.ID = id
		if err := reg.Register(sensor); err != nil {
			logger.WithFields(logrus.Fields{"sensor": id, "error": err}).Warn("seed sensor rejected")
		}
	}
}

// generationLoop produces a reading per active sensor every interval
// so history is populated even when no sensor daemon polls.
func generationLoop(ctx context.Context, cfg *config.DataServerConfig, reg *registry.Registry, store *storage.MemoryStore, redisHistory *storage.RedisHistory, gen *generator.Generator, logger *logrus.Entry) {
	ticker := time.NewTicker(time.Duration(cfg.Generation.Interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := true
			for _, sensor := range reg.List(registry.Filter{Active: &active}) {
				reading := gen.Generate(sensor.ID)
				store.Add(sensor.ID, reading)
				metrics.Temperature.WithLabelValues(sensor.ID, reading.Unit).Set(reading.Value)

				if redisHistory != nil {
					if err := redisHistory.StoreReading(ctx, sensor.ID, reading); err != nil {
						logger.WithFields(logrus.Fields{"sensor": sensor.ID, "error": err}).Warn("redis store failed")
					}
				}
			}
		}
	}
}

// expiryLoop deactivates sensors with stale heartbeats and drops their
// generator state.
func expiryLoop(ctx context.Context, cfg *config.DataServerConfig, reg *registry.Registry, gen *generator.Generator, logger *logrus.Entry) {
	maxAge := cfg.HeartbeatMaxAge()
	ticker := time.NewTicker(maxAge / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired := reg.ExpireStale(maxAge); len(expired) > 0 {
				logger.WithFields(logrus.Fields{"sensors": expired}).Warn("sensors expired")
			}

			active := true
			sensors := reg.List(registry.Filter{Active: &active})
			metrics.ActiveSensors.Set(float64(len(sensors)))

			ids := make([]string, 0, len(sensors))
			for _, sensor := range sensors {
				ids = append(ids, sensor.ID)
			}
			gen.CleanupInactive(ids)
		}
	}
}

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
	"github.com/EmilMarian/vast/pkg/client"
	"github.com/EmilMarian/vast/pkg/config"
	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/EmilMarian/vast/pkg/logging"
	"github.com/EmilMarian/vast/pkg/metrics"
	"github.com/EmilMarian/vast/pkg/network"
	"github.com/EmilMarian/vast/pkg/simulator"
	"github.com/sirupsen/logrus"
)

var typeUnits = map[string]string{
	entities.TypeTemperature:  "celsius",
	entities.TypeHumidity:     "percent",
	entities.TypeSoilMoisture: "percent",
	entities.TypeLight:        "lux",
}

func main() {
	configPath := flag.String("config", ".", "path to the configuration file directory")
	flag.Parse()

	cfg, err := config.LoadSensorConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	logrusWrapper := logging.NewLogrus(cfg.Log.Level, cfg.Log.JSON, os.Stdout)
	logger := logrusWrapper.Get("sensor")

	sensor := entities.Sensor{
		ID:          cfg.Sensor.ID,
		Type:        cfg.Sensor.Type,
		Location:    cfg.Sensor.Location,
		Environment: cfg.Sensor.Environment,
		CropType:    cfg.Sensor.CropType,
		SoilType:    cfg.Sensor.SoilType,
	}
	unit, ok := typeUnits[sensor.Type]
	if !ok {
		unit = "celsius"
	}

	dataClient := client.NewDataServerClient(
		cfg.DataServer.URL,
		sensor,
		time.Duration(cfg.DataServer.FetchInterval)*time.Second,
		time.Duration(cfg.DataServer.HeartbeatInterval)*time.Second,
		cfg.DataServer.FallbackTemp,
		logrusWrapper.Get("client"),
	)

	sim := simulator.New(simulator.NewRandomSource())

	formatter, err := network.NewFormatter(cfg.MQTT.Format)
	if err != nil {
		logger.WithFields(logrus.Fields{"error": err}).Fatal("invalid data format")
	}
	connection := network.NewMQTTConnection(cfg.BrokerURL(), cfg.MQTT.ClientID+"-"+sensor.ID, logrusWrapper.Get("mqtt"))
	publisher := network.NewPublisher(connection, formatter, logrusWrapper.Get("publisher"))

	handler := api.NewSensorHandler(sensor.ID, unit, sim, dataClient, logrusWrapper.Get("api"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go dataClient.RunHeartbeat(ctx)

	go func() {
		if err := connection.Connect(); err != nil {
			logger.WithFields(logrus.Fields{"error": err}).Error("broker connection gave up")
			return
		}
		publishLoop(ctx, cfg, sensor, unit, handler, publisher, logger)
	}()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: api.NewSensorRouter(handler),
	}
	go func() {
		logger.WithFields(logrus.Fields{"port": cfg.HTTP.Port}).Info("sensor API listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"error": err}).Fatal("sensor API failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"error": err}).Warn("server shutdown failed")
	}
	connection.Disconnect()
	logger.Info("stopped")
}

func publishLoop(ctx context.Context, cfg *config.SensorConfig, sensor entities.Sensor, unit string, handler *api.SensorHandler, publisher *network.Publisher, logger *logrus.Entry) {
	ticker := time.NewTicker(time.Duration(cfg.MQTT.PublishInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			value, err := handler.Read(ctx)
			if err != nil {
				metrics.FailedRequests.WithLabelValues(sensor.ID, "publish").Inc()
				logger.WithFields(logrus.Fields{"error": err}).Debug("no reading this cycle")
				continue
			}

			reading := entities.Reading{
				Value:     value,
				Unit:      unit,
				Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
			}
			if err := publisher.Publish(sensor, reading); err != nil {
				logger.WithFields(logrus.Fields{"error": err}).Warn("publish failed")
				continue
			}
			metrics.Temperature.WithLabelValues(sensor.ID, unit).Set(value)
			metrics.PublishedReadings.WithLabelValues(sensor.ID, cfg.MQTT.Format).Inc()
		}
	}
}

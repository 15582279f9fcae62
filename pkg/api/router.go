package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewSensorRouter wires the sensor daemon's control surface.
func NewSensorRouter(handler *SensorHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/temperature", handler.HandleTemperature)
	r.Post("/simulate/fault", handler.HandleSetFault)
	r.Get("/simulate/status", handler.HandleFaultStatus)
	r.Post("/config/calibrate", handler.HandleCalibrate)
	r.Get("/config", handler.HandleConfig)
	r.Get("/health", handler.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// NewDataServerRouter wires the data server's API.
func NewDataServerRouter(handler *DataServerHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/sensors/register", handler.HandleRegister)
	r.Post("/sensors/heartbeat/{id}", handler.HandleHeartbeat)
	r.Get("/sensors", handler.HandleListSensors)
	r.Get("/sensors/{id}", handler.HandleGetSensor)
	r.Post("/sensors/{id}/activate", handler.HandleActivate)
	r.Post("/sensors/{id}/deactivate", handler.HandleDeactivate)
	r.Get("/sensors/{id}/history", handler.HandleHistory)
	r.Get("/environment/{id}", handler.HandleEnvironment)
	r.Get("/health", handler.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

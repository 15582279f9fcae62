package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/EmilMarian/vast/pkg/generator"
	"github.com/EmilMarian/vast/pkg/metrics"
	"github.com/EmilMarian/vast/pkg/registry"
	"github.com/EmilMarian/vast/pkg/storage"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SharedHistory is a reading history shared between server instances.
// The local in-memory store stays the fallback when it is down.
type SharedHistory interface {
	RecentReadings(ctx context.Context, sensorID string, limit int) ([]entities.Reading, error)
	Ping(ctx context.Context) error
}

// DataServerHandler serves the registry and environment API.
type DataServerHandler struct {
	registry  *registry.Registry
	store     *storage.MemoryStore
	generator *generator.Generator
	shared    SharedHistory
	logger    *logrus.Entry
}

func NewDataServerHandler(reg *registry.Registry, store *storage.MemoryStore, gen *generator.Generator, logger *logrus.Entry) *DataServerHandler {
	return &DataServerHandler{
		registry:  reg,
		store:     store,
		generator: gen,
		logger:    logger,
	}
}

func (h *DataServerHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var sensor entities.Sensor
	if err := json.NewDecoder(r.Body).Decode(&sensor); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if sensor.ID == "" {
		sensor.ID = h.registry.GenerateID(sensor.Type)
	}
	if err := h.registry.Register(sensor); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.updateActiveSensors()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"sensor_id": sensor.ID,
	})
}

// UseSharedHistory routes history reads through the shared store.
func (h *DataServerHandler) UseSharedHistory(shared SharedHistory) {
	h.shared = shared
}

func (h *DataServerHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.Touch(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *DataServerHandler) HandleListSensors(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{Type: r.URL.Query().Get("type")}
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active filter")
			return
		}
		filter.Active = &active
	}

	sensors := h.registry.List(filter)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sensors": sensors,
		"count":   len(sensors),
	})
}

func (h *DataServerHandler) HandleGetSensor(w http.ResponseWriter, r *http.Request) {
	sensor, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

func (h *DataServerHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, chi.URLParam(r, "id"), true)
}

func (h *DataServerHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, chi.URLParam(r, "id"), false)
}

func (h *DataServerHandler) setActive(w http.ResponseWriter, id string, active bool) {
	var err error
	if active {
		err = h.registry.Activate(id)
	} else {
		err = h.registry.Deactivate(id)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	h.updateActiveSensors()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"sensor_id": id,
		"active":    active,
	})
}

func (h *DataServerHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	readings := h.history(r.Context(), id, limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sensor_id": id,
		"readings":  readings,
		"count":     len(readings),
	})
}

// history reads from the shared store when one is configured, falling
// back to the local buffer when the read fails. Shared readings arrive
// newest first and are reversed so both sources answer oldest first.
func (h *DataServerHandler) history(ctx context.Context, id string, limit int) []entities.Reading {
	if h.shared != nil {
		readings, err := h.shared.RecentReadings(ctx, id, limit)
		if err == nil {
			for left, right := 0, len(readings)-1; left < right; left, right = left+1, right-1 {
				readings[left], readings[right] = readings[right], readings[left]
			}
			return readings
		}
		h.logger.WithFields(logrus.Fields{"sensor": id, "error": err}).Warn("shared history unavailable")
	}
	return h.store.History(id, limit)
}

// HandleEnvironment returns the current baseline for a sensor, as a
// sensor daemon would fetch it.
func (h *DataServerHandler) HandleEnvironment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sensor, err := h.registry.Get(id)
	if err != nil {
		if errors.Cause(err) == registry.ErrNotFound {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	reading := h.generator.Generate(id)
	h.store.Add(id, reading)
	metrics.Temperature.WithLabelValues(id, reading.Unit).Set(reading.Value)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"temperature": reading.Value,
		"unit":        reading.Unit,
		"timestamp":   reading.Timestamp,
		"sensor_id":   id,
		"type":        sensor.Type,
	})
}

func (h *DataServerHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	active := true
	payload := map[string]interface{}{
		"status":         "healthy",
		"active_sensors": len(h.registry.List(registry.Filter{Active: &active})),
		"weather":        h.generator.Weather(),
	}
	if h.shared != nil {
		payload["redis"] = "connected"
		if err := h.shared.Ping(r.Context()); err != nil {
			payload["redis"] = "unavailable"
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *DataServerHandler) updateActiveSensors() {
	active := true
	metrics.ActiveSensors.Set(float64(len(h.registry.List(registry.Filter{Active: &active}))))
}

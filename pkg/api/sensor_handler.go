package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/EmilMarian/vast/pkg/client"
	"github.com/EmilMarian/vast/pkg/metrics"
	"github.com/EmilMarian/vast/pkg/simulator"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BaselineSource supplies the value a healthy sensor would observe.
type BaselineSource interface {
	FetchBaseline(ctx context.Context) float64
	Status() client.Status
}

// SensorHandler serves one sensor daemon's HTTP surface: readings with
// the active fault applied, fault control and calibration.
type SensorHandler struct {
	sensorID  string
	unit      string
	simulator *simulator.Simulator
	baseline  BaselineSource
	logger    *logrus.Entry
	now       func() time.Time
}

func NewSensorHandler(sensorID, unit string, sim *simulator.Simulator, baseline BaselineSource, logger *logrus.Entry) *SensorHandler {
	return &SensorHandler{
		sensorID:  sensorID,
		unit:      unit,
		simulator: sim,
		baseline:  baseline,
		logger:    logger,
		now:       time.Now,
	}
}

// Read produces one observed value with the active fault applied. The
// publish loop shares this path with the HTTP handler.
func (h *SensorHandler) Read(ctx context.Context) (float64, error) {
	baseline := h.baseline.FetchBaseline(ctx)
	return h.simulator.Apply(baseline)
}

func (h *SensorHandler) HandleTemperature(w http.ResponseWriter, r *http.Request) {
	started := h.now()
	value, err := h.Read(r.Context())
	metrics.RequestLatency.WithLabelValues(h.sensorID, "temperature").Observe(time.Since(started).Seconds())

	if err != nil {
		if errors.Is(err, simulator.ErrSensorCommunication) {
			metrics.FailedRequests.WithLabelValues(h.sensorID, "temperature").Inc()
			writeError(w, http.StatusServiceUnavailable, "sensor communication failure")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.Temperature.WithLabelValues(h.sensorID, h.unit).Set(value)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"temperature": value,
		"unit":        h.unit,
		"timestamp":   float64(h.now().UnixNano()) / float64(time.Second),
		"sensor_id":   h.sensorID,
	})
}

func (h *SensorHandler) HandleSetFault(w http.ResponseWriter, r *http.Request) {
	var request struct {
		FaultMode string  `json:"fault_mode"`
		Value     float64 `json:"value"`
		Duration  float64 `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.simulator.Set(request.FaultMode, request.Value, request.Duration); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics.FaultMode.WithLabelValues(h.sensorID).Set(metrics.FaultModeValue(request.FaultMode))
	h.logger.WithFields(logrus.Fields{"mode": request.FaultMode, "value": request.Value}).Info("fault mode set")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"fault_mode": request.FaultMode,
	})
}

func (h *SensorHandler) HandleFaultStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.simulator.Status())
}

func (h *SensorHandler) HandleCalibrate(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Offset float64 `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.simulator.Calibrate(request.Offset)
	h.logger.WithFields(logrus.Fields{"offset": request.Offset}).Info("sensor calibrated")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "success",
		"calibration_offset": request.Offset,
	})
}

func (h *SensorHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sensor_id":          h.sensorID,
		"unit":               h.unit,
		"fault_mode":         h.simulator.Status().FaultMode,
		"calibration_offset": h.simulator.CalibrationOffset(),
		"data_server":        h.baseline.Status(),
	})
}

func (h *SensorHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"sensor_id": h.sensorID,
	})
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/EmilMarian/vast/pkg/client"
	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/EmilMarian/vast/pkg/logging"
	"github.com/EmilMarian/vast/pkg/simulator"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
)

type fakeBaseline struct {
	value float64
}

func (f *fakeBaseline) FetchBaseline(ctx context.Context) float64 {
	return f.value
}

func (f *fakeBaseline) Status() client.Status {
	return client.Status{Connected: true, Registered: true, ServerURL: "http://data-server:8000"}
}

type sensorHandlerSuite struct {
	suite.Suite
	baseline  *fakeBaseline
	simulator *simulator.Simulator
	router    *chi.Mux
}

func (ss *sensorHandlerSuite) SetupTest() {
	ss.baseline = &fakeBaseline{value: 23.0}
	ss.simulator = simulator.New(simulator.NewSeededRandomSource(5))
	logger := logging.NewLogrus("error", false, io.Discard).Get("api")
	handler := NewSensorHandler("TEMP001", "celsius", ss.simulator, ss.baseline, logger)
	ss.router = NewSensorRouter(handler)
}

func (ss *sensorHandlerSuite) request(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		ss.Require().NoError(err)
		reader = bytes.NewReader(payload)
	}
	request := httptest.NewRequest(method, path, reader)
	recorder := httptest.NewRecorder()
	ss.router.ServeHTTP(recorder, request)
	return recorder
}

func (ss *sensorHandlerSuite) decode(recorder *httptest.ResponseRecorder) map[string]interface{} {
	var payload map[string]interface{}
	ss.Require().NoError(json.Unmarshal(recorder.Body.Bytes(), &payload))
	return payload
}

func (ss *sensorHandlerSuite) TestTemperatureReturnsBaselineWithoutFault() {
	recorder := ss.request(http.MethodGet, "/temperature", nil)
	ss.Equal(http.StatusOK, recorder.Code)

	payload := ss.decode(recorder)
	ss.Equal(23.0, payload["temperature"])
	ss.Equal("celsius", payload["unit"])
	ss.Equal("TEMP001", payload["sensor_id"])
}

func (ss *sensorHandlerSuite) TestTemperatureDuringDropoutIsUnavailable() {
	ss.simulator.SetProbabilities(-1, 1.0)
	ss.Require().NoError(ss.simulator.Set(entities.FaultDropout, 0, 0))

	recorder := ss.request(http.MethodGet, "/temperature", nil)
	ss.Equal(http.StatusServiceUnavailable, recorder.Code)
	ss.Contains(ss.decode(recorder)["error"], "communication")
}

func (ss *sensorHandlerSuite) TestSetFaultThenReadingsAreStuck() {
	recorder := ss.request(http.MethodPost, "/simulate/fault", map[string]interface{}{
		"fault_mode": "stuck",
		"value":      99.9,
	})
	ss.Equal(http.StatusOK, recorder.Code)

	payload := ss.decode(recorder)
	ss.Equal("success", payload["status"])
	ss.Equal("stuck", payload["fault_mode"])

	reading := ss.decode(ss.request(http.MethodGet, "/temperature", nil))
	ss.Equal(99.9, reading["temperature"])
}

func (ss *sensorHandlerSuite) TestSetFaultWhenUnknownModeThenBadRequest() {
	recorder := ss.request(http.MethodPost, "/simulate/fault", map[string]interface{}{
		"fault_mode": "explode",
	})
	ss.Equal(http.StatusBadRequest, recorder.Code)

	status := ss.decode(ss.request(http.MethodGet, "/simulate/status", nil))
	ss.Equal("none", status["fault_mode"])
}

func (ss *sensorHandlerSuite) TestSetFaultWhenBodyIsGarbageThenBadRequest() {
	request := httptest.NewRequest(http.MethodPost, "/simulate/fault", bytes.NewReader([]byte("{")))
	recorder := httptest.NewRecorder()
	ss.router.ServeHTTP(recorder, request)
	ss.Equal(http.StatusBadRequest, recorder.Code)
}

func (ss *sensorHandlerSuite) TestFaultStatusReflectsActiveMode() {
	ss.request(http.MethodPost, "/simulate/fault", map[string]interface{}{
		"fault_mode": "drift",
		"value":      10.0,
		"duration":   100.0,
	})

	payload := ss.decode(ss.request(http.MethodGet, "/simulate/status", nil))
	ss.Equal("drift", payload["fault_mode"])
	ss.Equal(10.0, payload["value"])
	ss.Equal(100.0, payload["duration"])
}

func (ss *sensorHandlerSuite) TestCalibrateShiftsReadings() {
	recorder := ss.request(http.MethodPost, "/config/calibrate", map[string]interface{}{"offset": 0.5})
	ss.Equal(http.StatusOK, recorder.Code)

	reading := ss.decode(ss.request(http.MethodGet, "/temperature", nil))
	ss.Equal(23.5, reading["temperature"])
}

func (ss *sensorHandlerSuite) TestConfigReportsSensorState() {
	ss.request(http.MethodPost, "/config/calibrate", map[string]interface{}{"offset": 1.5})

	payload := ss.decode(ss.request(http.MethodGet, "/config", nil))
	ss.Equal("TEMP001", payload["sensor_id"])
	ss.Equal(1.5, payload["calibration_offset"])
	ss.Equal("none", payload["fault_mode"])
}

func (ss *sensorHandlerSuite) TestHealthIsAlwaysHealthy() {
	payload := ss.decode(ss.request(http.MethodGet, "/health", nil))
	ss.Equal("healthy", payload["status"])
	ss.Equal("TEMP001", payload["sensor_id"])
}

func TestSensorHandlerSuite(t *testing.T) {
	suite.Run(t, new(sensorHandlerSuite))
}

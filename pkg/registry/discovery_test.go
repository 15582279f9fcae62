package registry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/EmilMarian/vast/pkg/logging"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type fakeLister struct {
	instances []string
	err       error
}

func (f *fakeLister) ListInstances(ctx context.Context) ([]string, error) {
	return f.instances, f.err
}

type discoverySuite struct {
	suite.Suite
	registry   *Registry
	lister     *fakeLister
	reconciler *Reconciler
}

func (ds *discoverySuite) SetupTest() {
	logger := logging.NewLogrus("error", false, io.Discard).Get("discovery")
	ds.registry = NewRegistry(logger)
	ds.lister = &fakeLister{}
	ds.reconciler = NewReconciler(ds.lister, ds.registry, logger, time.Minute)
}

func (ds *discoverySuite) TestSweepRegistersRunningInstances() {
	ds.lister.instances = []string{"sensor-01", "sensor-02", "postgres"}

	ds.NoError(ds.reconciler.Sweep(context.Background()))

	sensors := ds.registry.List(Filter{})
	ds.Len(sensors, 2)
	for _, sensor := range sensors {
		ds.True(sensor.Active)
		ds.Equal(entities.TypeTemperature, sensor.Type)
		ds.Equal("discovery", sensor.Metadata[discoveryManagedKey])
	}
}

func (ds *discoverySuite) TestSweepDeactivatesVanishedInstances() {
	ds.lister.instances = []string{"sensor-01", "sensor-02"}
	ds.NoError(ds.reconciler.Sweep(context.Background()))

	ds.lister.instances = []string{"sensor-01"}
	ds.NoError(ds.reconciler.Sweep(context.Background()))

	sensor, err := ds.registry.Get("TEMP001")
	ds.NoError(err)
	ds.True(sensor.Active)

	sensor, err = ds.registry.Get("TEMP002")
	ds.NoError(err)
	ds.False(sensor.Active)
}

func (ds *discoverySuite) TestSweepReactivatesReturningInstance() {
	ds.lister.instances = []string{"sensor-01"}
	ds.NoError(ds.reconciler.Sweep(context.Background()))

	ds.lister.instances = nil
	ds.NoError(ds.reconciler.Sweep(context.Background()))

	ds.lister.instances = []string{"sensor-01"}
	ds.NoError(ds.reconciler.Sweep(context.Background()))

	sensor, err := ds.registry.Get("TEMP001")
	ds.NoError(err)
	ds.True(sensor.Active)
}

func (ds *discoverySuite) TestSweepNeverTouchesManualSensors() {
	manual := entities.Sensor{ID: "HUM001", Type: entities.TypeHumidity, Location: "field-1"}
	ds.NoError(ds.registry.Register(manual))

	ds.lister.instances = nil
	ds.NoError(ds.reconciler.Sweep(context.Background()))

	sensor, err := ds.registry.Get("HUM001")
	ds.NoError(err)
	ds.True(sensor.Active)
}

func (ds *discoverySuite) TestSweepWhenListerFailsThenRegistryUntouched() {
	ds.lister.instances = []string{"sensor-01"}
	ds.NoError(ds.reconciler.Sweep(context.Background()))

	ds.lister.err = errors.Wrap(ErrDiscoveryUnavailable, "socket closed")
	err := ds.reconciler.Sweep(context.Background())
	ds.ErrorIs(err, ErrDiscoveryUnavailable)

	sensor, getErr := ds.registry.Get("TEMP001")
	ds.NoError(getErr)
	ds.True(sensor.Active)
}

func (ds *discoverySuite) TestRunStopsOnContextCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ds.reconciler.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		ds.Fail("discovery loop did not stop")
	}
}

func TestDiscoverySuite(t *testing.T) {
	suite.Run(t, new(discoverySuite))
}

func TestResolveSensorID(t *testing.T) {
	cases := map[string]string{
		"sensor-01":            "TEMP001",
		"sensor-04":            "TEMP004",
		"greenhouse-sensor-7":  "TEMP007",
		"field-station-12":     "TEMP012",
		"temp-probe":           "TEMPPROBE",
		"soil-sensor-basement": "SOILSENSORBASEMENT",
		"postgres":             "",
		"redis":                "",
		"x":                    "",
	}
	for instance, expected := range cases {
		assert.Equal(t, expected, ResolveSensorID(instance), instance)
	}
}

func TestHTTPListerReportsHealthyInstances(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()

	lister := NewHTTPLister(map[string]string{
		"sensor-01": healthy.URL + "/health",
		"sensor-02": broken.URL + "/health",
		"sensor-03": down.URL + "/health",
	})

	running, err := lister.ListInstances(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"sensor-01"}, running)
}

func TestHTTPListerWhenNoEndpointsThenUnavailable(t *testing.T) {
	lister := NewHTTPLister(nil)
	_, err := lister.ListInstances(context.Background())
	assert.ErrorIs(t, err, ErrDiscoveryUnavailable)
}

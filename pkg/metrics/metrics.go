package metrics

import (
	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Temperature is the last observed reading per sensor.
	Temperature = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sensor_temperature",
			Help: "Current temperature reading",
		},
		[]string{"sensor_id", "unit"},
	)

	// FaultMode exposes the active fault mode as a number so dashboards
	// can alert on it.
	FaultMode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sensor_fault_mode",
			Help: "Current fault mode (0=none, 1=stuck, 2=drift, 3=spike, 4=dropout)",
		},
		[]string{"sensor_id"},
	)

	// PublishedReadings counts readings sent to the broker.
	PublishedReadings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_published_readings_total",
			Help: "Total number of readings published",
		},
		[]string{"sensor_id", "format"},
	)

	// FailedRequests counts reading cycles that produced no value.
	FailedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_failed_requests",
			Help: "Count of failed requests",
		},
		[]string{"sensor_id", "endpoint"},
	)

	// RequestLatency tracks how long a reading request takes.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensor_request_latency_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sensor_id", "endpoint"},
	)

	// DiscoverySweeps counts reconciler sweeps by outcome.
	DiscoverySweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataserver_discovery_sweeps_total",
			Help: "Total number of discovery sweeps",
		},
		[]string{"status"},
	)

	// ActiveSensors is the number of active sensors in the registry.
	ActiveSensors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dataserver_active_sensors",
			Help: "Number of currently active sensors",
		},
	)
)

var faultModeValues = map[string]float64{
	entities.FaultNone:    0,
	entities.FaultStuck:   1,
	entities.FaultDrift:   2,
	entities.FaultSpike:   3,
	entities.FaultDropout: 4,
}

// FaultModeValue maps a fault mode name to its gauge value. Unknown
// modes map to -1.
func FaultModeValue(mode string) float64 {
	if value, ok := faultModeValues[mode]; ok {
		return value
	}
	return -1
}

package registry

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/EmilMarian/vast/pkg/metrics"
	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrDiscoveryUnavailable is returned when the instance backend cannot
// be queried at all. Sweeps treat it as "skip this cycle", never as an
// empty fleet.
var ErrDiscoveryUnavailable = errors.New("discovery backend unavailable")

const discoveryManagedKey = "managed_by"
const discoveryManagedValue = "discovery"

// InstanceLister enumerates running sensor instances by name. The
// names are infrastructure identifiers, not sensor IDs; the reconciler
// maps between the two.
type InstanceLister interface {
	ListInstances(ctx context.Context) ([]string, error)
}

var numericSuffixPattern = regexp.MustCompile(`-(\d+)$`)
var instanceNameCleaner = regexp.MustCompile(`[^A-Z0-9]`)

var wellKnownInstances = map[string]string{
	"sensor-01": "TEMP001",
	"sensor-02": "TEMP002",
	"sensor-03": "TEMP003",
	"sensor-04": "TEMP004",
}

// ResolveSensorID maps an instance name to a registry sensor ID. Names
// that look nothing like a sensor resolve to the empty string and are
// ignored by sweeps.
func ResolveSensorID(instance string) string {
	if id, ok := wellKnownInstances[instance]; ok {
		return id
	}
	if match := numericSuffixPattern.FindStringSubmatch(instance); match != nil {
		n, err := strconv.Atoi(match[1])
		if err == nil && n > 0 {
			return fmt.Sprintf("TEMP%03d", n)
		}
	}
	lowered := strings.ToLower(instance)
	if strings.Contains(lowered, "sensor") || strings.Contains(lowered, "temp") {
		candidate := instanceNameCleaner.ReplaceAllString(strings.ToUpper(instance), "")
		if sensorIDPattern.MatchString(candidate) {
			return candidate
		}
	}
	return ""
}

// Reconciler keeps the registry aligned with the set of running
// instances. Discovered sensors are tagged in their metadata so a
// sweep never touches manually registered ones.
type Reconciler struct {
	lister   InstanceLister
	registry *Registry
	logger   *logrus.Entry
	interval time.Duration
}

func NewReconciler(lister InstanceLister, registry *Registry, logger *logrus.Entry, interval time.Duration) *Reconciler {
	return &Reconciler{
		lister:   lister,
		registry: registry,
		logger:   logger,
		interval: interval,
	}
}

// Run sweeps until the context is cancelled. A failing sweep is logged
// and retried next tick; the loop itself never stops on error.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweepWithRetry(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("discovery loop stopped")
			return
		case <-ticker.C:
			r.sweepWithRetry(ctx)
		}
	}
}

func (r *Reconciler) sweepWithRetry(ctx context.Context) {
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return r.Sweep(ctx)
	}
	err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	if err != nil {
		metrics.DiscoverySweeps.WithLabelValues("failed").Inc()
		r.logger.WithFields(logrus.Fields{"error": err}).Warn("discovery sweep failed")
		return
	}
	metrics.DiscoverySweeps.WithLabelValues("success").Inc()
}

// Sweep lists the running instances once and applies the difference to
// the registry atomically.
func (r *Reconciler) Sweep(ctx context.Context) error {
	instances, err := r.lister.ListInstances(ctx)
	if err != nil {
		return errors.Wrap(err, "list instances")
	}

	running := map[string]string{}
	for _, instance := range instances {
		id := ResolveSensorID(instance)
		if id == "" {
			r.logger.WithFields(logrus.Fields{"instance": instance}).Debug("instance ignored")
			continue
		}
		running[id] = instance
	}

	var add []entities.Sensor
	for id, instance := range running {
		if known, err := r.registry.Get(id); err == nil {
			if !known.Active {
				add = append(add, known)
			}
			continue
		}
		add = append(add, entities.Sensor{
			ID:          id,
			Type:        entities.TypeTemperature,
			Location:    instance,
			Environment: entities.EnvironmentGreenhouse,
			Metadata: map[string]interface{}{
				discoveryManagedKey: discoveryManagedValue,
				"instance":          instance,
			},
		})
	}

	var deactivate []string
	active := true
	for _, sensor := range r.registry.List(Filter{Active: &active}) {
		if sensor.Metadata[discoveryManagedKey] != discoveryManagedValue {
			continue
		}
		if _, ok := running[sensor.ID]; !ok {
			deactivate = append(deactivate, sensor.ID)
		}
	}

	r.registry.ApplySweep(add, deactivate)
	r.logger.WithFields(logrus.Fields{
		"running":     len(running),
		"added":       len(add),
		"deactivated": len(deactivate),
	}).Info("discovery sweep applied")
	return nil
}

// HTTPLister treats a fixed set of instance health endpoints as the
// source of truth: an instance is running when its health check
// answers 200.
type HTTPLister struct {
	client    *http.Client
	endpoints map[string]string
}

func NewHTTPLister(endpoints map[string]string) *HTTPLister {
	return &HTTPLister{
		client:    &http.Client{Timeout: 5 * time.Second},
		endpoints: endpoints,
	}
}

func (h *HTTPLister) ListInstances(ctx context.Context) ([]string, error) {
	if len(h.endpoints) == 0 {
		return nil, ErrDiscoveryUnavailable
	}

	var running []string
	for name, url := range h.endpoints {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, errors.Wrap(ErrDiscoveryUnavailable, err.Error())
		}
		response, err := h.client.Do(request)
		if err != nil {
			continue
		}
		response.Body.Close()
		if response.StatusCode == http.StatusOK {
			running = append(running, name)
		}
	}
	return running, nil
}

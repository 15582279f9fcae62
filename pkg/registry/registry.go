package registry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when an operation references an
	// unregistered sensor ID.
	ErrNotFound = errors.New("sensor not found")

	// ErrInvalidSensorID rejects IDs that do not match the registry
	// naming scheme.
	ErrInvalidSensorID = errors.New("invalid sensor id")

	// ErrPersistence wraps any save or load failure.
	ErrPersistence = errors.New("registry persistence failure")
)

var sensorIDPattern = regexp.MustCompile(`^[A-Z0-9]{4,}$`)

var idPrefixes = map[string]string{
	entities.TypeTemperature:  "TEMP",
	entities.TypeHumidity:     "HUM",
	entities.TypeSoilMoisture: "SOIL",
	entities.TypeLight:        "LIGHT",
}

// Filter selects sensors in List. The zero value matches everything.
type Filter struct {
	Type   string
	Active *bool
}

type sensorsFile struct {
	Sensors map[string]entities.Sensor `json:"sensors"`
}

// Registry is the authoritative in-memory sensor catalog. All methods
// are safe for concurrent use; List returns snapshots in registration
// order so callers never observe a partially applied sweep.
type Registry struct {
	mu         sync.RWMutex
	sensors    map[string]entities.Sensor
	order      []string
	heartbeats map[string]time.Time
	files      filesystemManagement
	logger     *logrus.Entry
	now        func() time.Time
}

func NewRegistry(logger *logrus.Entry) *Registry {
	return &Registry{
		sensors:    map[string]entities.Sensor{},
		heartbeats: map[string]time.Time{},
		files:      new(fileManagement),
		logger:     logger,
		now:        time.Now,
	}
}

// Register upserts a sensor. A re-registration replaces the stored
// record but keeps the original position and creation time, and always
// leaves the sensor active.
func (r *Registry) Register(sensor entities.Sensor) error {
	if !sensorIDPattern.MatchString(sensor.ID) {
		return errors.Wrap(ErrInvalidSensorID, sensor.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(sensor)
	return nil
}

// register requires r.mu to be held.
func (r *Registry) register(sensor entities.Sensor) {
	existing, known := r.sensors[sensor.ID]
	if known {
		if sensor.CreatedAt == "" {
			sensor.CreatedAt = existing.CreatedAt
		}
	} else {
		r.order = append(r.order, sensor.ID)
	}
	if sensor.CreatedAt == "" {
		sensor.CreatedAt = r.now().UTC().Format(time.RFC3339)
	}
	sensor.Active = true
	r.sensors[sensor.ID] = sensor
	r.heartbeats[sensor.ID] = r.now()
	r.logger.WithFields(logrus.Fields{"sensor": sensor.ID, "type": sensor.Type}).Info("sensor registered")
}

// Get returns a copy of the stored sensor.
func (r *Registry) Get(id string) (entities.Sensor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sensor, ok := r.sensors[id]
	if !ok {
		return entities.Sensor{}, errors.Wrap(ErrNotFound, id)
	}
	return sensor, nil
}

// List returns matching sensors in registration order.
func (r *Registry) List(filter Filter) []entities.Sensor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := make([]entities.Sensor, 0, len(r.order))
	for _, id := range r.order {
		sensor := r.sensors[id]
		if filter.Type != "" && sensor.Type != filter.Type {
			continue
		}
		if filter.Active != nil && sensor.Active != *filter.Active {
			continue
		}
		matches = append(matches, sensor)
	}
	return matches
}

func (r *Registry) Activate(id string) error {
	return r.setActive(id, true)
}

// Deactivate marks a sensor inactive. Records are never deleted, so a
// sensor can come back with its identity and metadata intact.
func (r *Registry) Deactivate(id string) error {
	return r.setActive(id, false)
}

func (r *Registry) setActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sensor, ok := r.sensors[id]
	if !ok {
		return errors.Wrap(ErrNotFound, id)
	}
	sensor.Active = active
	r.sensors[id] = sensor
	r.logger.WithFields(logrus.Fields{"sensor": id, "active": active}).Info("sensor state changed")
	return nil
}

// Touch records a heartbeat for a registered sensor.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sensors[id]; !ok {
		return errors.Wrap(ErrNotFound, id)
	}
	r.heartbeats[id] = r.now()
	return nil
}

// ExpireStale deactivates active sensors whose last heartbeat is older
// than maxAge and returns their IDs.
func (r *Registry) ExpireStale(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := r.now().Add(-maxAge)
	var expired []string
	for _, id := range r.order {
		sensor := r.sensors[id]
		if !sensor.Active {
			continue
		}
		if beat, ok := r.heartbeats[id]; ok && beat.Before(deadline) {
			sensor.Active = false
			r.sensors[id] = sensor
			expired = append(expired, id)
			r.logger.WithFields(logrus.Fields{"sensor": id}).Warn("sensor heartbeat expired")
		}
	}
	return expired
}

// GenerateID returns the lowest unused ID for the given sensor type,
// e.g. TEMP001 for temperature. Unknown types fall back to SENSOR.
func (r *Registry) GenerateID(sensorType string) string {
	prefix, ok := idPrefixes[sensorType]
	if !ok {
		prefix = "SENSOR"
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s%03d", prefix, n)
		if _, taken := r.sensors[candidate]; !taken {
			return candidate
		}
	}
}

// ApplySweep registers the given sensors and deactivates the given IDs
// under a single lock, so readers see either the whole sweep or none
// of it. Unknown IDs in the deactivate set are skipped.
func (r *Registry) ApplySweep(add []entities.Sensor, deactivate []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sensor := range add {
		if !sensorIDPattern.MatchString(sensor.ID) {
			r.logger.WithFields(logrus.Fields{"sensor": sensor.ID}).Warn("sweep skipped invalid sensor id")
			continue
		}
		r.register(sensor)
	}
	for _, id := range deactivate {
		sensor, ok := r.sensors[id]
		if !ok {
			continue
		}
		sensor.Active = false
		r.sensors[id] = sensor
		r.logger.WithFields(logrus.Fields{"sensor": id}).Info("sensor deactivated by sweep")
	}
}

// Save writes the catalog as JSON. The file keeps every record,
// inactive sensors included.
func (r *Registry) Save(filepath string) error {
	r.mu.RLock()
	snapshot := sensorsFile{Sensors: make(map[string]entities.Sensor, len(r.sensors))}
	for id, sensor := range r.sensors {
		snapshot.Sensors[id] = sensor
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(ErrPersistence, err.Error())
	}
	if err := r.files.writeSensorsFile(filepath, data); err != nil {
		return errors.Wrap(ErrPersistence, err.Error())
	}
	r.logger.WithFields(logrus.Fields{"file": filepath, "sensors": len(snapshot.Sensors)}).Info("registry saved")
	return nil
}

// Load replaces the catalog with the file contents. Registration order
// is not stored on disk, so loaded sensors are ordered by ID.
func (r *Registry) Load(filepath string) error {
	data, err := r.files.readSensorsFile(filepath)
	if err != nil {
		return errors.Wrap(ErrPersistence, err.Error())
	}

	var snapshot sensorsFile
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return errors.Wrap(ErrPersistence, err.Error())
	}

	order := make([]string, 0, len(snapshot.Sensors))
	for id := range snapshot.Sensors {
		if !sensorIDPattern.MatchString(id) {
			return errors.Wrap(ErrPersistence, "invalid sensor id "+id)
		}
		order = append(order, id)
	}
	sort.Strings(order)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sensors = make(map[string]entities.Sensor, len(snapshot.Sensors))
	r.heartbeats = make(map[string]time.Time, len(snapshot.Sensors))
	for id, sensor := range snapshot.Sensors {
		sensor.ID = id
		r.sensors[id] = sensor
		r.heartbeats[id] = r.now()
	}
	r.order = order
	r.logger.WithFields(logrus.Fields{"file": filepath, "sensors": len(order)}).Info("registry loaded")
	return nil
}

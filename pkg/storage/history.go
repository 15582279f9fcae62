package storage

import (
	"sync"

	"github.com/EmilMarian/vast/pkg/entities"
)

const defaultCapacity = 100

// MemoryStore keeps a capped reading history per sensor. When a buffer
// is full the oldest reading is dropped, so memory use is bounded by
// capacity times the number of sensors.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	readings map[string][]entities.Reading
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		readings: map[string][]entities.Reading{},
	}
}

// Add appends a reading to the sensor's buffer.
func (m *MemoryStore) Add(sensorID string, reading entities.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buffer := append(m.readings[sensorID], reading)
	if len(buffer) > m.capacity {
		buffer = buffer[len(buffer)-m.capacity:]
	}
	m.readings[sensorID] = buffer
}

// Latest returns the newest reading for a sensor.
func (m *MemoryStore) Latest(sensorID string) (entities.Reading, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buffer := m.readings[sensorID]
	if len(buffer) == 0 {
		return entities.Reading{}, false
	}
	return buffer[len(buffer)-1], true
}

// History returns up to limit readings, newest last. A non-positive
// limit returns the whole buffer.
func (m *MemoryStore) History(sensorID string, limit int) []entities.Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buffer := m.readings[sensorID]
	if limit > 0 && len(buffer) > limit {
		buffer = buffer[len(buffer)-limit:]
	}
	snapshot := make([]entities.Reading, len(buffer))
	copy(snapshot, buffer)
	return snapshot
}

// SensorIDs lists the sensors with at least one stored reading.
func (m *MemoryStore) SensorIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.readings))
	for id, buffer := range m.readings {
		if len(buffer) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// Clear drops the buffer for one sensor.
func (m *MemoryStore) Clear(sensorID string) {
	m.mu.Lock()
	delete(m.readings, sensorID)
	m.mu.Unlock()
}

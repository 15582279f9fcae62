package network

import (
	"fmt"
	"sync"

	"github.com/EmilMarian/vast/pkg/entities"
	bloomFilter "github.com/bits-and-blooms/bloom/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	filterCapacity               = 1000000
	duplicationProbability       = 0.01
	resetFilterUsagePercentage   = 0.75
	maximumFilterUsagePercentage = resetFilterUsagePercentage * 100
)

// Publisher sends readings to per-type topics and suppresses duplicate
// measurements. One bloom filter per sensor tracks the timestamps seen
// so far; a filter nearing saturation is cleared rather than allowed
// to report everything as duplicated.
type Publisher struct {
	connection Connection
	formatter  Formatter
	logger     *logrus.Entry

	mu       sync.Mutex
	filters  map[string]*bloomFilter.BloomFilter
	capacity uint
}

func NewPublisher(connection Connection, formatter Formatter, logger *logrus.Entry) *Publisher {
	return &Publisher{
		connection: connection,
		formatter:  formatter,
		logger:     logger,
		filters:    map[string]*bloomFilter.BloomFilter{},
		capacity:   filterCapacity,
	}
}

// Topic returns the publication topic for a sensor.
func Topic(sensor entities.Sensor) string {
	return "sensors/" + sensor.Type
}

// Publish formats and sends one reading. A reading whose timestamp was
// already published for this sensor is dropped silently.
func (p *Publisher) Publish(sensor entities.Sensor, reading entities.Reading) error {
	if p.isMeasurementDuplicated(sensor.ID, reading) {
		p.logger.WithFields(logrus.Fields{"sensor": sensor.ID}).Debug("duplicate reading dropped")
		return nil
	}
	p.updateDuplicationFilter(sensor.ID, reading)

	payload, err := p.formatter.Format(sensor.ID, reading)
	if err != nil {
		return errors.Wrap(err, "format reading")
	}
	if err := p.connection.Publish(Topic(sensor), payload); err != nil {
		return errors.Wrap(err, "publish reading")
	}
	return nil
}

func measurementKey(sensorID string, reading entities.Reading) []byte {
	return []byte(fmt.Sprintf("%v_%s", reading.Timestamp, sensorID))
}

func (p *Publisher) isMeasurementDuplicated(sensorID string, reading entities.Reading) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	filter, ok := p.filters[sensorID]
	if !ok {
		return false
	}
	return filter.Test(measurementKey(sensorID, reading))
}

func (p *Publisher) updateDuplicationFilter(sensorID string, reading entities.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()

	filter, ok := p.filters[sensorID]
	if !ok {
		filter = bloomFilter.NewWithEstimates(p.capacity, duplicationProbability)
		p.filters[sensorID] = filter
	}
	p.resetDuplicationFilter(sensorID)
	filter.Add(measurementKey(sensorID, reading))
}

// resetDuplicationFilter requires p.mu to be held.
func (p *Publisher) resetDuplicationFilter(sensorID string) {
	filter := p.filters[sensorID]
	usage := (float32(filter.ApproximatedSize()) / float32(filter.Cap())) * 100
	if usage >= maximumFilterUsagePercentage {
		filter.ClearAll()
		p.logger.WithFields(logrus.Fields{"sensor": sensorID}).Info("duplication filter reset")
	}
}

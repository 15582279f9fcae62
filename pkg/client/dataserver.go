package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/EmilMarian/vast/pkg/simulator"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Status reports the health of the data server link.
type Status struct {
	Connected     bool    `json:"connected"`
	Registered    bool    `json:"registered"`
	Failures      int     `json:"connection_failures"`
	LastFetchTime float64 `json:"last_fetch_time,omitempty"`
	ServerURL     string  `json:"server_url"`
}

type cachedReading struct {
	reading   entities.Reading
	fetchedAt time.Time
}

// DataServerClient fetches baselines from the data server and keeps
// the sensor registered there. When the server is unreachable it first
// serves the cached reading, then a locally generated fallback, so a
// sensor keeps producing data through server outages.
type DataServerClient struct {
	serverURL         string
	sensor            entities.Sensor
	fetchInterval     time.Duration
	heartbeatInterval time.Duration
	fallbackValue     float64
	maxFailures       int

	httpClient *http.Client
	random     simulator.RandomSource
	logger     *logrus.Entry
	now        func() time.Time

	mu         sync.Mutex
	cache      *cachedReading
	connected  bool
	registered bool
	failures   int
}

func NewDataServerClient(serverURL string, sensor entities.Sensor, fetchInterval, heartbeatInterval time.Duration, fallbackValue float64, logger *logrus.Entry) *DataServerClient {
	return &DataServerClient{
		serverURL:         serverURL,
		sensor:            sensor,
		fetchInterval:     fetchInterval,
		heartbeatInterval: heartbeatInterval,
		fallbackValue:     fallbackValue,
		maxFailures:       5,
		httpClient:        &http.Client{Timeout: 10 * time.Second},
		random:            simulator.NewRandomSource(),
		logger:            logger,
		now:               time.Now,
	}
}

// Register announces the sensor to the data server.
func (c *DataServerClient) Register(ctx context.Context) error {
	payload, err := json.Marshal(c.sensor)
	if err != nil {
		return errors.Wrap(err, "marshal registration")
	}

	url := c.serverURL + "/sensors/register"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build registration request")
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.markFailure()
		return errors.Wrap(err, "register sensor")
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusCreated {
		c.markFailure()
		return errors.Errorf("register sensor: status %d", response.StatusCode)
	}

	c.mu.Lock()
	c.registered = true
	c.mu.Unlock()
	c.logger.WithFields(logrus.Fields{"sensor": c.sensor.ID}).Info("sensor registered with data server")
	return nil
}

// Heartbeat tells the data server the sensor is still alive.
func (c *DataServerClient) Heartbeat(ctx context.Context) error {
	url := fmt.Sprintf("%s/sensors/heartbeat/%s", c.serverURL, c.sensor.ID)
	body := []byte(fmt.Sprintf(`{"timestamp": %v}`, float64(c.now().UnixNano())/float64(time.Second)))

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build heartbeat request")
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.markUnregistered()
		return errors.Wrap(err, "send heartbeat")
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		c.markUnregistered()
		return errors.Errorf("send heartbeat: status %d", response.StatusCode)
	}
	return nil
}

// RunHeartbeat registers the sensor and keeps it alive until the
// context is cancelled. Lost registration is repaired on the next
// tick.
func (c *DataServerClient) RunHeartbeat(ctx context.Context) {
	if err := c.Register(ctx); err != nil {
		c.logger.WithFields(logrus.Fields{"error": err}).Warn("initial registration failed")
	}

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			needsRegistration := !c.registered || c.failures > c.maxFailures/2
			c.mu.Unlock()

			var err error
			if needsRegistration {
				err = c.Register(ctx)
			} else {
				err = c.Heartbeat(ctx)
			}
			if err != nil {
				c.logger.WithFields(logrus.Fields{"error": err}).Warn("heartbeat cycle failed")
			}
		}
	}
}

// FetchBaseline returns the current baseline for the sensor. The
// server is asked at most once per fetch interval; between fetches the
// cached value is reused. A cache older than five intervals is
// discarded in favor of the local fallback.
func (c *DataServerClient) FetchBaseline(ctx context.Context) float64 {
	c.mu.Lock()
	cache := c.cache
	c.mu.Unlock()

	if cache == nil || c.now().Sub(cache.fetchedAt) >= c.fetchInterval {
		if reading, err := c.fetchReading(ctx); err == nil {
			c.mu.Lock()
			c.cache = &cachedReading{reading: reading, fetchedAt: c.now()}
			c.connected = true
			c.failures = 0
			cache = c.cache
			c.mu.Unlock()
			return reading.Value
		} else {
			c.markFailure()
			c.logger.WithFields(logrus.Fields{"error": err}).Warn("baseline fetch failed")
		}
	}

	if cache != nil && c.now().Sub(cache.fetchedAt) < 5*c.fetchInterval {
		return cache.reading.Value
	}

	c.logger.Warn("using fallback baseline generation")
	return c.fallbackBaseline()
}

func (c *DataServerClient) fetchReading(ctx context.Context) (entities.Reading, error) {
	url := fmt.Sprintf("%s/environment/%s", c.serverURL, c.sensor.ID)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return entities.Reading{}, errors.Wrap(err, "build baseline request")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return entities.Reading{}, errors.Wrap(err, "fetch baseline")
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return entities.Reading{}, errors.Errorf("fetch baseline: status %d", response.StatusCode)
	}

	var payload struct {
		Temperature float64 `json:"temperature"`
		Unit        string  `json:"unit"`
		Timestamp   float64 `json:"timestamp"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return entities.Reading{}, errors.Wrap(err, "decode baseline")
	}
	return entities.Reading{Value: payload.Temperature, Unit: payload.Unit, Timestamp: payload.Timestamp}, nil
}

// fallbackBaseline approximates a day/night cycle around the
// configured fallback value.
func (c *DataServerClient) fallbackBaseline() float64 {
	base := c.fallbackValue
	switch hour := c.now().Hour(); {
	case hour >= 6 && hour < 12:
		base += 1.0
	case hour >= 12 && hour < 18:
		base += 2.0
	case hour >= 18 && hour < 22:
		base -= 0.5
	default:
		base -= 1.5
	}
	return base + simulator.Uniform(c.random, -0.5, 0.5)
}

// Status reports the connection state for the health endpoint.
func (c *DataServerClient) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		Connected:  c.connected,
		Registered: c.registered,
		Failures:   c.failures,
		ServerURL:  c.serverURL,
	}
	if c.cache != nil {
		status.LastFetchTime = float64(c.cache.fetchedAt.UnixNano()) / float64(time.Second)
	}
	return status
}

func (c *DataServerClient) markFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= c.maxFailures {
		c.connected = false
	}
}

func (c *DataServerClient) markUnregistered() {
	c.mu.Lock()
	c.registered = false
	c.mu.Unlock()
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// SensorConfig configures one sensor daemon.
type SensorConfig struct {
	Sensor struct {
		ID          string `mapstructure:"id"`
		Type        string `mapstructure:"type"`
		Location    string `mapstructure:"location"`
		Environment string `mapstructure:"environment"`
		CropType    string `mapstructure:"crop_type"`
		SoilType    string `mapstructure:"soil_type"`
	} `mapstructure:"sensor"`

	MQTT struct {
		Broker          string `mapstructure:"broker"`
		Port            int    `mapstructure:"port"`
		ClientID        string `mapstructure:"client_id"`
		Format          string `mapstructure:"format"`
		PublishInterval int    `mapstructure:"publish_interval"`
	} `mapstructure:"mqtt"`

	DataServer struct {
		URL               string  `mapstructure:"url"`
		FetchInterval     int     `mapstructure:"fetch_interval"`
		HeartbeatInterval int     `mapstructure:"heartbeat_interval"`
		FallbackTemp      float64 `mapstructure:"fallback_temp"`
	} `mapstructure:"data_server"`

	HTTP struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"http"`

	Log LogConfig `mapstructure:"log"`
}

// DataServerConfig configures the data server daemon.
type DataServerConfig struct {
	HTTP struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"http"`

	Registry struct {
		File            string `mapstructure:"file"`
		SeedFile        string `mapstructure:"seed_file"`
		HeartbeatMaxAge int    `mapstructure:"heartbeat_max_age"`
	} `mapstructure:"registry"`

	History struct {
		Capacity int `mapstructure:"capacity"`
	} `mapstructure:"history"`

	Generation struct {
		Interval int `mapstructure:"interval"`
	} `mapstructure:"generation"`

	Discovery struct {
		Enabled   bool              `mapstructure:"enabled"`
		Interval  int               `mapstructure:"interval"`
		Endpoints map[string]string `mapstructure:"endpoints"`
	} `mapstructure:"discovery"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		TTL      int    `mapstructure:"ttl"`
	} `mapstructure:"redis"`

	Log LogConfig `mapstructure:"log"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// BrokerURL normalizes the broker address into a paho URL.
func (c *SensorConfig) BrokerURL() string {
	broker := c.MQTT.Broker
	if strings.Contains(broker, "://") {
		return broker
	}
	return fmt.Sprintf("tcp://%s:%d", broker, c.MQTT.Port)
}

// LoadSensorConfig reads config.yaml from path, overlaid with
// environment variables. A missing file leaves the defaults.
func LoadSensorConfig(path string) (*SensorConfig, error) {
	v := newViper(path)

	v.SetDefault("sensor.id", "TEMP001")
	v.SetDefault("sensor.type", "temperature")
	v.SetDefault("sensor.location", "unknown")
	v.SetDefault("sensor.environment", "greenhouse")
	v.SetDefault("sensor.crop_type", "generic")
	v.SetDefault("sensor.soil_type", "loam")

	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "sensor")
	v.SetDefault("mqtt.format", "rich_json")
	v.SetDefault("mqtt.publish_interval", 5)

	v.SetDefault("data_server.url", "http://data-server:8000")
	v.SetDefault("data_server.fetch_interval", 5)
	v.SetDefault("data_server.heartbeat_interval", 30)
	v.SetDefault("data_server.fallback_temp", 25.0)

	v.SetDefault("http.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var config SensorConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "decode sensor config")
	}
	return &config, nil
}

// LoadDataServerConfig reads config.yaml from path, overlaid with
// environment variables.
func LoadDataServerConfig(path string) (*DataServerConfig, error) {
	v := newViper(path)

	v.SetDefault("http.port", 8000)
	v.SetDefault("registry.file", "sensors.json")
	v.SetDefault("registry.seed_file", "")
	v.SetDefault("registry.heartbeat_max_age", 120)
	v.SetDefault("history.capacity", 100)
	v.SetDefault("generation.interval", 5)
	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.interval", 60)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 3600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var config DataServerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "decode data server config")
	}
	return &config, nil
}

// HeartbeatMaxAge converts the configured seconds to a duration.
func (c *DataServerConfig) HeartbeatMaxAge() time.Duration {
	return time.Duration(c.Registry.HeartbeatMaxAge) * time.Second
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errors.Wrap(err, "read config file")
		}
	}
	return nil
}

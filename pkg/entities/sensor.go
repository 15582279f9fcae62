package entities

const (
	TypeTemperature  string = "temperature"
	TypeHumidity     string = "humidity"
	TypeSoilMoisture string = "soil_moisture"
	TypeLight        string = "light"

	EnvironmentGreenhouse string = "greenhouse"
	EnvironmentField      string = "field"
)

const (
	FaultNone    string = "none"
	FaultStuck   string = "stuck"
	FaultDrift   string = "drift"
	FaultSpike   string = "spike"
	FaultDropout string = "dropout"
)

// Sensor is a registry record for one sensing device. The zero Metadata
// map is valid; the registry treats it as empty.
type Sensor struct {
	ID          string                 `json:"sensor_id" yaml:"sensorId"`
	Type        string                 `json:"type" yaml:"type"`
	Location    string                 `json:"location" yaml:"location"`
	Environment string                 `json:"environment" yaml:"environment"`
	CropType    string                 `json:"crop_type,omitempty" yaml:"cropType,omitempty"`
	SoilType    string                 `json:"soil_type,omitempty" yaml:"soilType,omitempty"`
	Active      bool                   `json:"active" yaml:"active"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   string                 `json:"created_at,omitempty" yaml:"createdAt,omitempty"`
}

// Reading is one observed value. Readings are ephemeral; only capped
// history buffers hold them.
type Reading struct {
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Timestamp float64 `json:"timestamp"`
}

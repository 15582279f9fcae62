package generator

import (
	"math"
	"sync"
	"time"

	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/EmilMarian/vast/pkg/simulator"
	"github.com/sirupsen/logrus"
)

type typeDefaults struct {
	baseValue float64
	variation float64
	unit      string
}

var defaultValues = map[string]typeDefaults{
	entities.TypeTemperature:  {baseValue: 25.0, variation: 0.8, unit: "celsius"},
	entities.TypeHumidity:     {baseValue: 65.0, variation: 5.0, unit: "percent"},
	entities.TypeSoilMoisture: {baseValue: 40.0, variation: 3.0, unit: "percent"},
	entities.TypeLight:        {baseValue: 850.0, variation: 150.0, unit: "lux"},
}

var weatherPatterns = []string{"sunny", "cloudy", "rainy", "windy"}

var growthStages = map[string][]string{
	"tomato":   {"seeding", "vegetative", "flowering", "fruiting", "ripening"},
	"cucumber": {"seeding", "vegetative", "flowering", "fruiting"},
	"corn":     {"emergence", "vegetative", "tasseling", "silking", "maturity"},
	"wheat":    {"emergence", "tillering", "stem extension", "heading", "ripening"},
	"generic":  {"early", "middle", "late"},
}

const weatherChangeProbability = 0.05

// SensorProvider supplies sensor context for a reading. The registry
// satisfies it; generation falls back to prefix-derived defaults when
// the provider does not know the sensor.
type SensorProvider interface {
	Get(id string) (entities.Sensor, error)
}

type timeComponent struct {
	timeIndex        int
	dailyCycleOffset float64
	seasonalOffset   float64
}

type moistureState struct {
	lastValue  float64
	rainMemory float64
}

// Generator produces realistic baselines for every sensor type. One
// cycle approximates ten simulated minutes: diurnal, seasonal, weather
// and crop effects are all derived from a per-sensor cycle counter, so
// two sensors never share a phase.
type Generator struct {
	mu         sync.Mutex
	provider   SensorProvider
	random     simulator.RandomSource
	logger     *logrus.Entry
	weather    string
	components map[string]*timeComponent
	stages     map[string]string
	moisture   map[string]*moistureState
	now        func() time.Time
}

func New(provider SensorProvider, random simulator.RandomSource, logger *logrus.Entry) *Generator {
	g := &Generator{
		provider:   provider,
		random:     random,
		logger:     logger,
		components: map[string]*timeComponent{},
		stages:     map[string]string{},
		moisture:   map[string]*moistureState{},
		now:        time.Now,
	}
	g.weather = weatherPatterns[g.pick(len(weatherPatterns))]
	return g
}

// Generate returns a reading for the sensor, dispatching on its type.
// Unknown types produce a temperature reading.
func (g *Generator) Generate(sensorID string) entities.Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureComponents(sensorID)
	g.updateWeather()
	g.updateGrowthStages()

	config := g.sensorConfig(sensorID)
	switch config.Type {
	case entities.TypeHumidity:
		return g.humidityReading(sensorID, config)
	case entities.TypeSoilMoisture:
		return g.soilMoistureReading(sensorID, config)
	case entities.TypeLight:
		return g.lightReading(sensorID, config)
	default:
		return g.temperatureReading(sensorID, config)
	}
}

// Weather reports the active weather pattern.
func (g *Generator) Weather() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.weather
}

// GrowthStage reports the crop stage tracked for a sensor.
func (g *Generator) GrowthStage(sensorID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.growthStage(sensorID, g.sensorConfig(sensorID))
}

// CleanupInactive drops the tracked state of sensors that are no
// longer in the active set, so a long-running server does not grow
// without bound.
func (g *Generator) CleanupInactive(activeIDs []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	active := make(map[string]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = struct{}{}
	}
	for id := range g.components {
		if _, ok := active[id]; !ok {
			delete(g.components, id)
			delete(g.stages, id)
			delete(g.moisture, id)
			g.logger.WithFields(logrus.Fields{"sensor": id}).Debug("generator state dropped")
		}
	}
}

func (g *Generator) temperatureReading(sensorID string, config entities.Sensor) entities.Reading {
	defaults := defaultValues[entities.TypeTemperature]
	value := defaults.baseValue

	value += g.diurnalEffect(sensorID, config)
	value += g.seasonalEffect(sensorID, config)
	value += g.weatherEffect(config)
	value += g.growthStageEffect(sensorID, config)
	value += g.uniform(-defaults.variation, defaults.variation)
	value = g.applyAnomaly(value, sensorID)

	value = clamp(value, -5.0, 45.0)
	return g.reading(roundTo(value, 2), defaults.unit)
}

func (g *Generator) humidityReading(sensorID string, config entities.Sensor) entities.Reading {
	defaults := defaultValues[entities.TypeHumidity]
	value := defaults.baseValue

	// Humidity runs inverse to the diurnal temperature swing.
	value += -g.diurnalEffect(sensorID, config) * 1.5

	switch g.weather {
	case "rainy":
		value += g.uniform(10.0, 20.0)
	case "cloudy":
		value += g.uniform(5.0, 10.0)
	case "sunny":
		value -= g.uniform(0.0, 10.0)
	}

	value += g.uniform(-defaults.variation, defaults.variation)
	value = clamp(value, 0.0, 100.0)
	return g.reading(roundTo(value, 1), defaults.unit)
}

func (g *Generator) soilMoistureReading(sensorID string, config entities.Sensor) entities.Reading {
	defaults := defaultValues[entities.TypeSoilMoisture]
	value := defaults.baseValue

	state, ok := g.moisture[sensorID]
	if !ok {
		state = &moistureState{lastValue: defaults.baseValue}
		g.moisture[sensorID] = state
	}

	// Soil reacts to rain with memory, not instantaneously.
	if g.weather == "rainy" {
		state.rainMemory += g.uniform(0.5, 2.0)
		if state.rainMemory > 25.0 {
			state.rainMemory = 25.0
		}
	} else {
		state.rainMemory *= 0.95
	}
	value += state.rainMemory

	// Irrigation or drying pulls the level back toward base.
	value += (defaults.baseValue - state.lastValue) * 0.1

	value += g.uniform(-defaults.variation, defaults.variation)

	switch config.SoilType {
	case "sandy":
		value -= 5.0
	case "clay":
		value += 5.0
	}

	value = clamp(value, 0.0, 100.0)
	value = roundTo(value, 1)
	state.lastValue = value
	return g.reading(value, defaults.unit)
}

func (g *Generator) lightReading(sensorID string, config entities.Sensor) entities.Reading {
	defaults := defaultValues[entities.TypeLight]
	hour := g.hourOfDay(sensorID)

	var value float64
	switch {
	case hour < 6 || hour >= 20:
		value = g.uniform(0.0, 50.0)
	case hour < 8 || hour >= 18:
		value = g.uniform(200.0, 500.0)
	default:
		value = defaults.baseValue
		timeFactor := 1.0 - math.Abs(float64(hour-13)/5.0)
		value *= 0.7 + 0.3*timeFactor
	}

	switch g.weather {
	case "sunny":
		value *= 1.2
	case "cloudy":
		value *= 0.6
	case "rainy":
		value *= 0.4
	case "windy":
		value *= 0.9
	}

	// Grow lights keep greenhouse light banded regardless of weather.
	if config.Environment == entities.EnvironmentGreenhouse {
		if hour >= 8 && hour < 20 {
			value = math.Max(value, 600.0)
		} else {
			value = math.Min(value, 50.0)
		}
	}

	value += g.uniform(-defaults.variation, defaults.variation)
	value = clamp(value, 0.0, 120000.0)
	return g.reading(math.Round(value), defaults.unit)
}

func (g *Generator) updateWeather() {
	if g.random.Float64() < weatherChangeProbability {
		g.weather = weatherPatterns[g.pick(len(weatherPatterns))]
		g.logger.WithFields(logrus.Fields{"weather": g.weather}).Info("weather changed")
	}
}

func (g *Generator) updateGrowthStages() {
	for sensorID, stage := range g.stages {
		if g.random.Float64() >= 0.01 {
			continue
		}
		config := g.sensorConfig(sensorID)
		stages := stagesForCrop(config.CropType)
		index := indexOf(stages, stage)
		if index < 0 {
			g.stages[sensorID] = stages[0]
			continue
		}
		if index < len(stages)-1 {
			g.stages[sensorID] = stages[index+1]
			g.logger.WithFields(logrus.Fields{"sensor": sensorID, "stage": stages[index+1]}).Info("crop advanced")
		}
	}
}

func (g *Generator) ensureComponents(sensorID string) {
	if _, ok := g.components[sensorID]; !ok {
		g.components[sensorID] = &timeComponent{
			dailyCycleOffset: g.uniform(0, 2*math.Pi),
			seasonalOffset:   g.uniform(0, 2*math.Pi),
		}
	}
}

func (g *Generator) sensorConfig(sensorID string) entities.Sensor {
	if g.provider != nil {
		if sensor, err := g.provider.Get(sensorID); err == nil {
			return sensor
		}
	}
	return entities.Sensor{
		ID:          sensorID,
		Type:        typeFromID(sensorID),
		Location:    "unknown",
		Environment: entities.EnvironmentGreenhouse,
		CropType:    "generic",
		SoilType:    "loam",
	}
}

func (g *Generator) growthStage(sensorID string, config entities.Sensor) string {
	if stage, ok := g.stages[sensorID]; ok {
		return stage
	}
	stages := stagesForCrop(config.CropType)
	stage := stages[g.pick(len(stages))]
	g.stages[sensorID] = stage
	return stage
}

func (g *Generator) weatherEffect(config entities.Sensor) float64 {
	factor := 1.0
	if config.Environment == entities.EnvironmentGreenhouse {
		factor = 0.3
	}
	switch g.weather {
	case "sunny":
		return g.uniform(1.0, 2.0) * factor
	case "cloudy":
		return g.uniform(-0.5, 0.5) * factor
	case "rainy":
		return g.uniform(-2.0, -0.5) * factor
	case "windy":
		return g.uniform(-1.0, 1.0) * factor
	}
	return 0.0
}

func (g *Generator) diurnalEffect(sensorID string, config entities.Sensor) float64 {
	component := g.components[sensorID]
	component.timeIndex++

	hour := g.hourOfDay(sensorID)
	effect := 3.0 * math.Sin(float64(hour)/24.0*2.0*math.Pi+component.dailyCycleOffset)
	if config.Environment == entities.EnvironmentGreenhouse {
		effect *= 0.4
	}
	return effect
}

func (g *Generator) seasonalEffect(sensorID string, config entities.Sensor) float64 {
	component := g.components[sensorID]
	dayOfYear := (component.timeIndex / (6 * 24)) % 365
	effect := 5.0 * math.Sin(float64(dayOfYear)/365.0*2.0*math.Pi+component.seasonalOffset)
	if config.Environment == entities.EnvironmentGreenhouse {
		effect *= 0.3
	}
	return effect
}

func (g *Generator) growthStageEffect(sensorID string, config entities.Sensor) float64 {
	stage := g.growthStage(sensorID, config)
	switch config.CropType {
	case "tomato":
		if stage == "flowering" {
			return g.uniform(0.5, 1.5)
		}
		if stage == "fruiting" {
			return g.uniform(0.0, 1.0)
		}
	case "cucumber":
		if stage == "flowering" {
			return g.uniform(0.5, 1.0)
		}
	case "corn":
		if stage == "tasseling" {
			return g.uniform(1.0, 2.0)
		}
	}
	return 0.0
}

func (g *Generator) applyAnomaly(value float64, sensorID string) float64 {
	if g.random.Float64() >= 0.01 {
		return value
	}
	magnitude := g.uniform(value*0.2, value*0.5)
	if g.random.Float64() < 0.5 {
		g.logger.WithFields(logrus.Fields{"sensor": sensorID}).Info("value spike applied")
		return value + magnitude
	}
	g.logger.WithFields(logrus.Fields{"sensor": sensorID}).Info("value drop applied")
	return value - magnitude
}

// hourOfDay advances six cycles per simulated hour.
func (g *Generator) hourOfDay(sensorID string) int {
	return (g.components[sensorID].timeIndex / 6) % 24
}

func (g *Generator) reading(value float64, unit string) entities.Reading {
	return entities.Reading{
		Value:     value,
		Unit:      unit,
		Timestamp: float64(g.now().UnixNano()) / float64(time.Second),
	}
}

func (g *Generator) uniform(min, max float64) float64 {
	return simulator.Uniform(g.random, min, max)
}

func (g *Generator) pick(n int) int {
	index := int(g.random.Float64() * float64(n))
	if index >= n {
		index = n - 1
	}
	return index
}

func stagesForCrop(crop string) []string {
	if stages, ok := growthStages[crop]; ok {
		return stages
	}
	return growthStages["generic"]
}

func typeFromID(sensorID string) string {
	for sensorType, prefix := range map[string]string{
		entities.TypeHumidity:     "HUM",
		entities.TypeSoilMoisture: "SOIL",
		entities.TypeLight:        "LIGHT",
	} {
		if len(sensorID) >= len(prefix) && sensorID[:len(prefix)] == prefix {
			return sensorType
		}
	}
	return entities.TypeTemperature
}

func indexOf(values []string, value string) int {
	for i, candidate := range values {
		if candidate == value {
			return i
		}
	}
	return -1
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func roundTo(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}

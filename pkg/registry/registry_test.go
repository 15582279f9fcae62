package registry

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/EmilMarian/vast/pkg/logging"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type registrySuite struct {
	suite.Suite
	registry *Registry
	files    *fileManagementMock
	clock    time.Time
}

func (rs *registrySuite) SetupTest() {
	rs.registry = NewRegistry(logging.NewLogrus("error", false, io.Discard).Get("registry"))
	rs.files = new(fileManagementMock)
	rs.registry.files = rs.files
	rs.clock = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	rs.registry.now = func() time.Time { return rs.clock }
}

func (rs *registrySuite) temperatureSensor(id string) entities.Sensor {
	return entities.Sensor{
		ID:          id,
		Type:        entities.TypeTemperature,
		Location:    "greenhouse-1",
		Environment: entities.EnvironmentGreenhouse,
	}
}

func (rs *registrySuite) TestRegisterThenGet() {
	rs.NoError(rs.registry.Register(rs.temperatureSensor("TEMP001")))

	sensor, err := rs.registry.Get("TEMP001")
	rs.NoError(err)
	rs.Equal(entities.TypeTemperature, sensor.Type)
	rs.True(sensor.Active)
	rs.Equal("2025-06-01T08:00:00Z", sensor.CreatedAt)
}

func (rs *registrySuite) TestRegisterWhenInvalidIDThenRejected() {
	for _, id := range []string{"", "temp001", "T1", "TEMP-01"} {
		err := rs.registry.Register(rs.temperatureSensor(id))
		rs.ErrorIs(err, ErrInvalidSensorID)
	}
	rs.Empty(rs.registry.List(Filter{}))
}

func (rs *registrySuite) TestGetWhenUnknownThenNotFound() {
	_, err := rs.registry.Get("TEMP999")
	rs.ErrorIs(err, ErrNotFound)
}

func (rs *registrySuite) TestRegisterTwiceKeepsOrderAndCreationTime() {
	rs.NoError(rs.registry.Register(rs.temperatureSensor("TEMP001")))
	rs.NoError(rs.registry.Register(rs.temperatureSensor("TEMP002")))
	rs.NoError(rs.registry.Deactivate("TEMP001"))

	rs.clock = rs.clock.Add(time.Hour)
	updated := rs.temperatureSensor("TEMP001")
	updated.Location = "greenhouse-2"
	rs.NoError(rs.registry.Register(updated))

	sensors := rs.registry.List(Filter{})
	rs.Len(sensors, 2)
	rs.Equal("TEMP001", sensors[0].ID)
	rs.Equal("greenhouse-2", sensors[0].Location)
	rs.True(sensors[0].Active)
	rs.Equal("2025-06-01T08:00:00Z", sensors[0].CreatedAt)
}

func (rs *registrySuite) TestListFiltersByTypeAndActive() {
	rs.NoError(rs.registry.Register(rs.temperatureSensor("TEMP001")))
	humidity := rs.temperatureSensor("HUM001")
	humidity.Type = entities.TypeHumidity
	rs.NoError(rs.registry.Register(humidity))
	rs.NoError(rs.registry.Register(rs.temperatureSensor("TEMP002")))
	rs.NoError(rs.registry.Deactivate("TEMP002"))

	temperatures := rs.registry.List(Filter{Type: entities.TypeTemperature})
	rs.Len(temperatures, 2)
	rs.Equal("TEMP001", temperatures[0].ID)
	rs.Equal("TEMP002", temperatures[1].ID)

	active := true
	activeOnly := rs.registry.List(Filter{Active: &active})
	rs.Len(activeOnly, 2)
	rs.Equal("TEMP001", activeOnly[0].ID)
	rs.Equal("HUM001", activeOnly[1].ID)

	inactive := false
	inactiveTemperatures := rs.registry.List(Filter{Type: entities.TypeTemperature, Active: &inactive})
	rs.Len(inactiveTemperatures, 1)
	rs.Equal("TEMP002", inactiveTemperatures[0].ID)
}

func (rs *registrySuite) TestDeactivateThenActivateRoundTrip() {
	rs.NoError(rs.registry.Register(rs.temperatureSensor("TEMP001")))
	rs.NoError(rs.registry.Deactivate("TEMP001"))

	sensor, err := rs.registry.Get("TEMP001")
	rs.NoError(err)
	rs.False(sensor.Active)

	rs.NoError(rs.registry.Activate("TEMP001"))
	sensor, err = rs.registry.Get("TEMP001")
	rs.NoError(err)
	rs.True(sensor.Active)
}

func (rs *registrySuite) TestActivateWhenUnknownThenNotFound() {
	rs.ErrorIs(rs.registry.Activate("TEMP999"), ErrNotFound)
	rs.ErrorIs(rs.registry.Deactivate("TEMP999"), ErrNotFound)
}

func (rs *registrySuite) TestGenerateIDSkipsTakenNumbers() {
	rs.Equal("TEMP001", rs.registry.GenerateID(entities.TypeTemperature))

	rs.NoError(rs.registry.Register(rs.temperatureSensor("TEMP001")))
	rs.NoError(rs.registry.Register(rs.temperatureSensor("TEMP002")))
	rs.Equal("TEMP003", rs.registry.GenerateID(entities.TypeTemperature))

	rs.Equal("HUM001", rs.registry.GenerateID(entities.TypeHumidity))
	rs.Equal("SENSOR001", rs.registry.GenerateID("pressure"))
}

func (rs *registrySuite) TestExpireStaleDeactivatesSilentSensors() {
	rs.NoError(rs.registry.Register(rs.temperatureSensor("TEMP001")))
	rs.NoError(rs.registry.Register(rs.temperatureSensor("TEMP002")))

	rs.clock = rs.clock.Add(2 * time.Minute)
	rs.NoError(rs.registry.Touch("TEMP002"))

	rs.clock = rs.clock.Add(4 * time.Minute)
	expired := rs.registry.ExpireStale(5 * time.Minute)
	rs.Equal([]string{"TEMP001"}, expired)

	sensor, err := rs.registry.Get("TEMP001")
	rs.NoError(err)
	rs.False(sensor.Active)

	sensor, err = rs.registry.Get("TEMP002")
	rs.NoError(err)
	rs.True(sensor.Active)

	rs.Empty(rs.registry.ExpireStale(5 * time.Minute))
}

func (rs *registrySuite) TestTouchWhenUnknownThenNotFound() {
	rs.ErrorIs(rs.registry.Touch("TEMP999"), ErrNotFound)
}

func (rs *registrySuite) TestApplySweepAddsAndDeactivatesTogether() {
	rs.NoError(rs.registry.Register(rs.temperatureSensor("TEMP001")))

	rs.registry.ApplySweep(
		[]entities.Sensor{rs.temperatureSensor("TEMP002"), rs.temperatureSensor("bad id")},
		[]string{"TEMP001", "TEMP999"},
	)

	sensor, err := rs.registry.Get("TEMP001")
	rs.NoError(err)
	rs.False(sensor.Active)

	sensor, err = rs.registry.Get("TEMP002")
	rs.NoError(err)
	rs.True(sensor.Active)

	_, err = rs.registry.Get("bad id")
	rs.ErrorIs(err, ErrNotFound)
}

func (rs *registrySuite) TestSaveWritesEveryRecord() {
	rs.NoError(rs.registry.Register(rs.temperatureSensor("TEMP001")))
	rs.NoError(rs.registry.Register(rs.temperatureSensor("TEMP002")))
	rs.NoError(rs.registry.Deactivate("TEMP002"))

	var written []byte
	rs.files.On("writeSensorsFile", "sensors.json", mock.Anything).Run(func(args mock.Arguments) {
		written = args.Get(1).([]byte)
	}).Return(nil)

	rs.NoError(rs.registry.Save("sensors.json"))
	rs.files.AssertExpectations(rs.T())

	var snapshot sensorsFile
	rs.NoError(json.Unmarshal(written, &snapshot))
	rs.Len(snapshot.Sensors, 2)
	rs.False(snapshot.Sensors["TEMP002"].Active)
}

func (rs *registrySuite) TestSaveWhenWriteFailsThenPersistenceError() {
	rs.files.On("writeSensorsFile", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	rs.ErrorIs(rs.registry.Save("sensors.json"), ErrPersistence)
}

func (rs *registrySuite) TestLoadReplacesCatalogSortedByID() {
	payload := []byte(`{"sensors": {
		"TEMP002": {"type": "temperature", "location": "field-2", "active": false},
		"TEMP001": {"type": "temperature", "location": "field-1", "active": true}
	}}`)
	rs.files.On("readSensorsFile", "sensors.json").Return(payload, nil)

	rs.NoError(rs.registry.Register(rs.temperatureSensor("HUM001")))
	rs.NoError(rs.registry.Load("sensors.json"))

	sensors := rs.registry.List(Filter{})
	rs.Len(sensors, 2)
	rs.Equal("TEMP001", sensors[0].ID)
	rs.Equal("TEMP002", sensors[1].ID)
	rs.False(sensors[1].Active)

	_, err := rs.registry.Get("HUM001")
	rs.ErrorIs(err, ErrNotFound)
}

func (rs *registrySuite) TestLoadWhenReadFailsThenPersistenceError() {
	rs.files.On("readSensorsFile", "missing.json").Return([]byte(nil), errors.New("no such file"))
	rs.ErrorIs(rs.registry.Load("missing.json"), ErrPersistence)
}

func (rs *registrySuite) TestLoadWhenMalformedThenPersistenceError() {
	rs.files.On("readSensorsFile", "sensors.json").Return([]byte("not json"), nil)
	rs.ErrorIs(rs.registry.Load("sensors.json"), ErrPersistence)
}

func (rs *registrySuite) TestLoadWhenInvalidIDThenPersistenceError() {
	rs.files.On("readSensorsFile", "sensors.json").Return([]byte(`{"sensors": {"t1": {}}}`), nil)
	rs.ErrorIs(rs.registry.Load("sensors.json"), ErrPersistence)
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(registrySuite))
}

package network

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/pkg/errors"
)

const (
	FormatRichJSON = "rich_json"
	FormatMinimal  = "minimal"
	FormatCSV      = "csv"
	FormatBinary   = "binary"
)

// Formatter encodes one reading for the wire.
type Formatter interface {
	Format(sensorID string, reading entities.Reading) ([]byte, error)
}

// NewFormatter returns the encoder for a format name.
func NewFormatter(name string) (Formatter, error) {
	switch name {
	case FormatRichJSON:
		return richJSONFormatter{}, nil
	case FormatMinimal:
		return minimalFormatter{}, nil
	case FormatCSV:
		return csvFormatter{}, nil
	case FormatBinary:
		return binaryFormatter{}, nil
	}
	return nil, errors.Errorf("unknown data format %q", name)
}

type richJSONFormatter struct{}

func (richJSONFormatter) Format(sensorID string, reading entities.Reading) ([]byte, error) {
	payload := map[string]interface{}{
		"temperature": reading.Value,
		"unit":        reading.Unit,
		"timestamp":   reading.Timestamp,
		"sensor_id":   sensorID,
	}
	return json.Marshal(payload)
}

type minimalFormatter struct{}

func (minimalFormatter) Format(sensorID string, reading entities.Reading) ([]byte, error) {
	return []byte(strconv.FormatFloat(reading.Value, 'f', -1, 64)), nil
}

type csvFormatter struct{}

func (csvFormatter) Format(sensorID string, reading entities.Reading) ([]byte, error) {
	return []byte(fmt.Sprintf("%s,%v,%d", sensorID, reading.Value, int64(reading.Timestamp))), nil
}

var trailingDigits = regexp.MustCompile(`(\d+)$`)

type binaryFormatter struct{}

// Format packs a reading as big-endian uint16 sensor number, float32
// value, int32 unix timestamp. The sensor number is the numeric suffix
// of the sensor ID.
func (binaryFormatter) Format(sensorID string, reading entities.Reading) ([]byte, error) {
	match := trailingDigits.FindString(sensorID)
	if match == "" {
		return nil, errors.Errorf("sensor id %q has no numeric suffix", sensorID)
	}
	number, err := strconv.ParseUint(match, 10, 16)
	if err != nil {
		return nil, errors.Wrap(err, "sensor number")
	}

	var buffer bytes.Buffer
	binary.Write(&buffer, binary.BigEndian, uint16(number))
	binary.Write(&buffer, binary.BigEndian, float32(reading.Value))
	binary.Write(&buffer, binary.BigEndian, int32(reading.Timestamp))
	return buffer.Bytes(), nil
}

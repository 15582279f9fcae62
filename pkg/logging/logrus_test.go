package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestGetReturnsEntryWithContextField(t *testing.T) {
	var buffer bytes.Buffer
	logger := NewLogrus("info", false, &buffer).Get("registry")
	assert.Equal(t, "registry", logger.Data["Context"])
}

func TestGetWhenInvalidLevelThenFallsBackToInfo(t *testing.T) {
	var buffer bytes.Buffer
	logger := NewLogrus("loud", false, &buffer).Get("sensor")
	assert.Equal(t, logrus.InfoLevel, logger.Logger.GetLevel())
}

func TestGetWhenJSONThenOutputIsJSON(t *testing.T) {
	var buffer bytes.Buffer
	logger := NewLogrus("debug", true, &buffer).Get("sensor")
	logger.Info("hello")
	assert.Contains(t, buffer.String(), "\"Context\":\"sensor\"")
}

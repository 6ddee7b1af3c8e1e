package logger

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("component", "downloader").Warn("tile failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tile failed", entry["message"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "downloader", entry["component"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_FallbackLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "chatty", Output: &buf})
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())

	log.Debug("hidden")
	assert.Empty(t, buf.String())
	log.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

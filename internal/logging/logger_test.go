package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

func TestNew_JSONFormat(t *testing.T) {
	logger, err := New(domain.LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.WithField("drug", "CODEINE").Info("Report composed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Report composed", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "CODEINE", entry["drug"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_TextFormat(t *testing.T) {
	logger, err := New(domain.LoggingConfig{Level: "warn", Format: "text"})
	require.NoError(t, err)
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
}

func TestNew_Defaults(t *testing.T) {
	logger, err := New(domain.LoggingConfig{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.Equal(t, os.Stdout, logger.Out)
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		config domain.LoggingConfig
	}{
		{"bad level", domain.LoggingConfig{Level: "loud"}},
		{"bad format", domain.LoggingConfig{Format: "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pharmaguard.log")
	logger, err := New(domain.LoggingConfig{Output: path})
	require.NoError(t, err)

	logger.Info("written to file")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestForStdio(t *testing.T) {
	assert.Equal(t, OutputStderr, ForStdio(domain.LoggingConfig{}).Output)
	assert.Equal(t, OutputStderr, ForStdio(domain.LoggingConfig{Output: "STDOUT"}).Output)
	assert.Equal(t, "/var/log/x.log", ForStdio(domain.LoggingConfig{Output: "/var/log/x.log"}).Output)
}

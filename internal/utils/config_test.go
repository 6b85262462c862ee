package utils_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gradscan/scan-relay/internal/utils"
	"github.com/gradscan/scan-relay/pkg/file"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
relay:
  listen_addr: ":9090"
  url: "ws://relay.internal:9090/ws"
  sweep_interval: 10s
consumer:
  max_retries: 3
  base_delay: 2s
producer:
  confirm_timeout: 5s
`)

	config, err := utils.LoadConfig(path, file.NewFileService())
	assert.NoError(t, err)
	assert.Equal(t, ":9090", config.Relay.ListenAddr)
	assert.Equal(t, "ws://relay.internal:9090/ws", config.Relay.URL)
	assert.Equal(t, 10*time.Second, config.Relay.SweepInterval)
	assert.Equal(t, 3, config.Consumer.MaxRetries)
	assert.Equal(t, 2*time.Second, config.Consumer.BaseDelay)
	assert.Equal(t, 5*time.Second, config.Producer.ConfirmTimeout)
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "relay: {}\n")

	config, err := utils.LoadConfig(path, file.NewFileService())
	assert.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", config.Relay.URL)
	assert.Equal(t, 30*time.Second, config.Relay.SweepInterval)
	assert.Equal(t, 5, config.Consumer.MaxRetries)
	assert.Equal(t, time.Second, config.Consumer.BaseDelay)
	assert.Equal(t, 5*time.Second, config.Consumer.FastBackoffCap)
	assert.Equal(t, 15*time.Second, config.Consumer.SteadyDelay)
}

func TestLoadConfig_EnvOverridesURL(t *testing.T) {
	path := writeConfig(t, "relay:\n  url: \"ws://from-file:8080/ws\"\n")
	t.Setenv("RELAY_URL", "ws://from-env:8080/ws")

	config, err := utils.LoadConfig(path, file.NewFileService())
	assert.NoError(t, err)
	assert.Equal(t, "ws://from-env:8080/ws", config.Relay.URL)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := utils.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), file.NewFileService())
	assert.Error(t, err)
}

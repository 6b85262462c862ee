package utils

import (
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/gradscan/scan-relay/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	Relay struct {
		ListenAddr    string        `yaml:"listen_addr"`    // Address the relay server listens on
		URL           string        `yaml:"url"`            // Relay endpoint clients connect to
		SweepInterval time.Duration `yaml:"sweep_interval"` // Interval of the dead-connection sweep
	} `yaml:"relay"`

	Consumer struct {
		ClientID       string        `yaml:"client_id"`        // Desktop client ID (optional)
		MaxRetries     int           `yaml:"max_retries"`      // Automatic reconnect attempts before the circuit opens
		BaseDelay      time.Duration `yaml:"base_delay"`       // Initial reconnect delay
		FastBackoffCap time.Duration `yaml:"fast_backoff_cap"` // Ceiling on the fast backoff tier
		SteadyDelay    time.Duration `yaml:"steady_delay"`     // Flat delay for the later attempts
	} `yaml:"consumer"`

	Producer struct {
		ClientID       string        `yaml:"client_id"`       // Scanner client ID (optional)
		DeviceFile     string        `yaml:"device_file"`     // Path to the persisted device identity file
		ConfirmTimeout time.Duration `yaml:"confirm_timeout"` // How long to wait for scan-confirmed
	} `yaml:"producer"`
}

// LoadConfig loads the YAML configuration from the specified file and
// applies environment overrides. RELAY_URL overrides the relay endpoint for
// both producer and consumer; a .env file is honored when present.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	_ = godotenv.Load()

	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	if url := os.Getenv("RELAY_URL"); url != "" {
		config.Relay.URL = url
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Relay.ListenAddr == "" {
		c.Relay.ListenAddr = ":8080"
	}
	if c.Relay.URL == "" {
		c.Relay.URL = "ws://localhost:8080/ws"
	}
	if c.Relay.SweepInterval == 0 {
		c.Relay.SweepInterval = 30 * time.Second
	}
	if c.Consumer.MaxRetries == 0 {
		c.Consumer.MaxRetries = 5
	}
	if c.Consumer.BaseDelay == 0 {
		c.Consumer.BaseDelay = time.Second
	}
	if c.Consumer.FastBackoffCap == 0 {
		c.Consumer.FastBackoffCap = 5 * time.Second
	}
	if c.Consumer.SteadyDelay == 0 {
		c.Consumer.SteadyDelay = 15 * time.Second
	}
	if c.Producer.ConfirmTimeout == 0 {
		c.Producer.ConfirmTimeout = 3 * time.Second
	}
}

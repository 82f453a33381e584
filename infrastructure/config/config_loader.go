package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aravanet/arava/domain/entities"
)

// Config defines the global configuration
type Config struct {
	Transport           string                  `yaml:"transport"`
	Username            string                  `yaml:"username"`
	Password            string                  `yaml:"password"`
	OutputShape         string                  `yaml:"output_shape"`
	Reconnect           bool                    `yaml:"reconnect"`
	ReconnectRetry      int                     `yaml:"reconnect_retry"`
	ReconnectIntervalMS int                     `yaml:"reconnect_interval_ms"`
	SnmpCommunity       string                  `yaml:"snmp_community"`
	Devices             []entities.DeviceConfig `yaml:"devices"`
}

func validateTransport(transport string) error {
	switch transport {
	case "ssh", "telnet":
		return nil
	default:
		return fmt.Errorf("transport %s is invalid, must be 'ssh' or 'telnet'", transport)
	}
}

func validateShape(shape string) error {
	if !entities.OutputShape(shape).IsValid() {
		return fmt.Errorf("output_shape %s is invalid, must be 'text', 'list', or 'map'", shape)
	}
	return nil
}

// Load loads and validates configuration from a YAML file. Device
// entries inherit transport, credentials, output shape, SNMP community
// and reconnection settings from the global section.
func Load(yamlFile string, verbosityLevel int) (*Config, error) {
	data, err := os.ReadFile(yamlFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read YAML file %s: %v", yamlFile, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %v", err)
	}

	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	if cfg.Transport == "" {
		cfg.Transport = "ssh"
	}
	if err := validateTransport(cfg.Transport); err != nil {
		return nil, err
	}

	cfg.OutputShape = strings.ToLower(strings.TrimSpace(cfg.OutputShape))
	if cfg.OutputShape == "" {
		cfg.OutputShape = string(entities.ShapeText)
	}
	if err := validateShape(cfg.OutputShape); err != nil {
		return nil, err
	}

	if cfg.Username == "" {
		return nil, fmt.Errorf("global username is required")
	}
	if cfg.Password == "" {
		return nil, fmt.Errorf("global password is required")
	}

	if cfg.ReconnectRetry <= 0 {
		cfg.ReconnectRetry = 3
	}
	if cfg.ReconnectIntervalMS < 0 {
		return nil, fmt.Errorf("reconnect_interval_ms must not be negative")
	}

	for i, device := range cfg.Devices {
		if device.Target == "" {
			return nil, fmt.Errorf("target is required for device %d", i)
		}

		device.Transport = strings.ToLower(strings.TrimSpace(device.Transport))
		if device.Transport == "" {
			device.Transport = cfg.Transport
			if verbosityLevel == 1 || verbosityLevel == 3 {
				fmt.Printf("DEBUG: No transport defined for device %s, using global %s\n", device.Target, cfg.Transport)
			}
		}
		if err := validateTransport(device.Transport); err != nil {
			return nil, fmt.Errorf("invalid transport for device %s: %w", device.Target, err)
		}

		if device.Username == "" {
			device.Username = cfg.Username
		}
		if device.Password == "" {
			device.Password = cfg.Password
		}

		device.OutputShape = strings.ToLower(strings.TrimSpace(device.OutputShape))
		if device.OutputShape == "" {
			device.OutputShape = cfg.OutputShape
		}
		if err := validateShape(device.OutputShape); err != nil {
			return nil, fmt.Errorf("invalid output_shape for device %s: %w", device.Target, err)
		}

		if device.ReconnectRetry <= 0 {
			device.ReconnectRetry = cfg.ReconnectRetry
		}
		device.Reconnect = cfg.Reconnect
		device.ReconnectInterval = time.Duration(cfg.ReconnectIntervalMS) * time.Millisecond

		if device.SnmpCommunity == "" {
			device.SnmpCommunity = cfg.SnmpCommunity
		}
		if device.Probe && device.SnmpCommunity == "" {
			return nil, fmt.Errorf("snmp_community is required for device %s because probe is enabled", device.Target)
		}

		device.VerbosityLevel = verbosityLevel

		cfg.Devices[i] = device
	}

	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("no devices defined in the YAML configuration")
	}

	return &cfg, nil
}

// Device returns the device entry matching target
func (c *Config) Device(target string) (entities.DeviceConfig, error) {
	for _, device := range c.Devices {
		if device.Target == target {
			return device, nil
		}
	}
	return entities.DeviceConfig{}, fmt.Errorf("target %s not registered in the YAML configuration", target)
}

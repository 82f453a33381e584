package entities

import "time"

// DeviceConfig defines the connection settings for a single device
type DeviceConfig struct {
	Target         string `yaml:"target"`
	Transport      string `yaml:"transport"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Port           int    `yaml:"port"`
	OutputShape    string `yaml:"output_shape"`
	ReconnectRetry int    `yaml:"reconnect_retry"`
	Probe          bool   `yaml:"probe"`
	SnmpCommunity  string `yaml:"snmp_community"`
	SessionLog     string `yaml:"session_log"`
	CommitOnExit   bool   `yaml:"commit_on_exit"`

	Reconnect         bool
	ReconnectInterval time.Duration
	VerbosityLevel    int
}

// IsDebugEnabled returns true if debug logs are enabled
func (dc DeviceConfig) IsDebugEnabled() bool {
	return dc.VerbosityLevel == 1 || dc.VerbosityLevel == 3
}

// IsRawOutputEnabled returns true if raw device output is enabled
func (dc DeviceConfig) IsRawOutputEnabled() bool {
	return dc.VerbosityLevel == 2 || dc.VerbosityLevel == 3
}

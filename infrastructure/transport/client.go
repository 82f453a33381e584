package transport

import (
	"github.com/aravanet/arava/domain/entities"
	"github.com/aravanet/arava/domain/ports"
)

// New returns the transport implementation selected by the device
// configuration, SSH unless Telnet is requested. Each session owns its
// transport exclusively, so instances are never shared or cached.
func New(cfg entities.DeviceConfig) ports.Transport {
	if cfg.Transport == "telnet" {
		return NewTelnetTransport(cfg)
	}
	return NewSSHTransport(cfg)
}

package probe

import (
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"
)

const (
	sysUpTimeOID = ".1.3.6.1.2.1.1.3.0"
	sysNameOID   = ".1.3.6.1.2.1.1.5.0"

	DefaultTimeout = 5 * time.Second
)

// Result carries the identity answers from a reachability probe
type Result struct {
	SysName string
	UpTime  time.Duration
}

// Check performs a single SNMP GET of sysName and sysUpTime against the
// device to confirm it is reachable before a session dials in.
func Check(target, community string, timeout time.Duration) (*Result, error) {
	if community == "" {
		return nil, fmt.Errorf("snmp community is required to probe %s", target)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	params := &gosnmp.GoSNMP{
		Target:    target,
		Port:      161,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   1,
		Transport: "udp",
	}
	if err := params.Connect(); err != nil {
		return nil, fmt.Errorf("failed to open SNMP socket to %s: %v", target, err)
	}
	defer params.Conn.Close()

	packet, err := params.Get([]string{sysUpTimeOID, sysNameOID})
	if err != nil {
		return nil, fmt.Errorf("SNMP probe to %s failed: %v", target, err)
	}

	result := &Result{}
	for _, variable := range packet.Variables {
		switch variable.Name {
		case sysNameOID:
			if raw, ok := variable.Value.([]byte); ok {
				result.SysName = string(raw)
			}
		case sysUpTimeOID:
			// sysUpTime is reported in hundredths of a second
			switch ticks := variable.Value.(type) {
			case uint32:
				result.UpTime = time.Duration(ticks) * 10 * time.Millisecond
			case uint:
				result.UpTime = time.Duration(ticks) * 10 * time.Millisecond
			}
		}
	}
	return result, nil
}

package services

import (
	"fmt"
	"os"
	"time"

	"github.com/aravanet/arava/domain/entities"
	"github.com/aravanet/arava/domain/services"
	"github.com/aravanet/arava/infrastructure/probe"
	"github.com/aravanet/arava/infrastructure/transport"
)

// DeviceApplicationService drives one device end to end: optional
// reachability probe, session lifecycle, operational command batches
// and configuration batches with commit. One instance per device;
// callers polling many devices run one instance per goroutine.
type DeviceApplicationService struct {
	config     entities.DeviceConfig
	session    *services.Session
	transcript *os.File
}

// NewDeviceApplicationService wires a session over the transport
// selected by the device configuration
func NewDeviceApplicationService(cfg entities.DeviceConfig) *DeviceApplicationService {
	return &DeviceApplicationService{
		config:  cfg,
		session: services.NewSession(cfg, transport.New(cfg)),
	}
}

// Session exposes the underlying session for callers that need mode
// control beyond the batch helpers
func (d *DeviceApplicationService) Session() *services.Session {
	return d.session
}

// Open probes the device when configured, attaches the session
// transcript and connects.
func (d *DeviceApplicationService) Open() error {
	if d.config.Probe {
		result, err := probe.Check(d.config.Target, d.config.SnmpCommunity, probe.DefaultTimeout)
		if err != nil {
			return fmt.Errorf("device %s failed reachability probe: %w", d.config.Target, err)
		}
		if d.config.IsDebugEnabled() {
			fmt.Printf("DEBUG: Probe of %s answered as %q, up %s\n", d.config.Target, result.SysName, result.UpTime)
		}
	}

	if d.config.SessionLog != "" {
		logFile, err := os.OpenFile(d.config.SessionLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open session log %s: %v", d.config.SessionLog, err)
		}
		d.transcript = logFile
		d.session.SetTranscript(logFile)
	}

	if err := d.session.Connect(); err != nil {
		d.closeTranscript()
		return err
	}
	return nil
}

// Close disconnects the session and releases the transcript. Safe to
// call from deferred cleanup regardless of earlier failures.
func (d *DeviceApplicationService) Close() {
	d.session.Disconnect()
	d.closeTranscript()
}

// RunShow executes an operational command batch and returns the
// aggregated output in the device's default shape
func (d *DeviceApplicationService) RunShow(commands []string, timeout time.Duration) (*services.ExecOutput, error) {
	return d.session.Execute(commands, entities.ExecShow, timeout, false, entities.OutputShape(d.config.OutputShape))
}

// ApplyConfig enters configuration mode, executes the batch, commits
// and returns to SHOW mode. The commit outcome is reported even when a
// later step fails.
func (d *DeviceApplicationService) ApplyConfig(commands []string, commitName string, timeout time.Duration, check bool) (entities.CommitResult, error) {
	if !d.session.ChangeMode(entities.ModeConfig) {
		return entities.CommitResult{Reason: "could not enter configuration mode"},
			fmt.Errorf("device %s refused configuration mode", d.config.Target)
	}

	if _, err := d.session.Execute(commands, entities.ExecConfig, timeout, false, entities.OutputShape(d.config.OutputShape)); err != nil {
		d.session.ChangeMode(entities.ModeShow)
		return entities.CommitResult{Reason: "configuration batch failed"}, err
	}

	result := d.session.Commit(commitName, 0, check)

	if !d.session.ChangeMode(entities.ModeShow) {
		return result, fmt.Errorf("device %s stuck in configuration mode", d.config.Target)
	}
	return result, nil
}

func (d *DeviceApplicationService) closeTranscript() {
	if d.transcript == nil {
		return
	}
	d.transcript.Close()
	d.transcript = nil
}

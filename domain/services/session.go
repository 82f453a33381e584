package services

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/aravanet/arava/domain/entities"
	"github.com/aravanet/arava/domain/ports"
)

const (
	// PromptBase is the prompt terminator DNOS uses in both the
	// operational and the configuration CLI.
	PromptBase = "#"

	// DefaultCommandTimeout bounds a single command exchange
	DefaultCommandTimeout = 10 * time.Second

	// DefaultCommitTimeout leaves room for large configuration commits
	DefaultCommitTimeout = 30 * time.Second

	noMoreDirective = " | no-more"
	cfgMarker       = "(cfg)"

	commitNotNeeded = "NOTICE: commit action is not applicable"
	commitFailure   = "ERROR:"
)

var (
	noMorePattern     = regexp.MustCompile(`\|\sno-more`)
	hostnamePattern   = regexp.MustCompile(`(.*)#`)
	annotationPattern = regexp.MustCompile(`\(.*\)`)
)

// Session drives one interactive CLI session against a single device.
// It is a single synchronous actor: one command is in flight at a time
// and there is no internal locking, so one Session must never be used
// from two goroutines at once. Callers polling many devices run one
// Session per worker.
type Session struct {
	config    entities.DeviceConfig
	transport ports.Transport

	isOpen   bool
	mode     entities.Mode
	hostname string
	shape    entities.OutputShape

	transcript io.Writer

	// OnDiagnostic receives conditions the session swallows on purpose,
	// such as transport close failures during disconnect. When nil the
	// condition goes to the debug log channel instead.
	OnDiagnostic func(msg string, err error)
}

// NewSession creates a closed session bound to a transport. The session
// takes exclusive ownership of the transport handle.
func NewSession(cfg entities.DeviceConfig, transport ports.Transport) *Session {
	shape := entities.OutputShape(cfg.OutputShape)
	if !shape.IsValid() {
		shape = entities.ShapeText
	}
	return &Session{
		config:    cfg,
		transport: transport,
		mode:      entities.ModeNotConnected,
		shape:     shape,
	}
}

// Connect opens the transport and places the session in SHOW mode.
// Calling Connect on an open session is a no-op. Authentication
// failures are fatal and never retried; connection timeouts are retried
// synchronously up to the configured attempt budget, and exhausting it
// surfaces a timeout error carrying the attempt count.
func (s *Session) Connect() error {
	if s.isOpen {
		return nil
	}

	maxAttempts := 1
	if s.config.Reconnect && s.config.ReconnectRetry > 1 {
		maxAttempts = s.config.ReconnectRetry
	}

	for attempt := 1; ; attempt++ {
		err := s.transport.Open()
		if err == nil {
			break
		}
		var authErr *ports.AuthenticationError
		if errors.As(err, &authErr) {
			return err
		}
		var timeoutErr *ports.ConnectionTimeoutError
		if !errors.As(err, &timeoutErr) {
			return fmt.Errorf("failed to connect to %s: %w", s.config.Target, err)
		}
		if attempt >= maxAttempts {
			return &ports.ConnectionTimeoutError{Target: s.config.Target, Attempts: attempt}
		}
		if s.config.ReconnectInterval > 0 {
			time.Sleep(s.config.ReconnectInterval)
		}
		if s.config.IsDebugEnabled() {
			fmt.Printf("DEBUG: Retrying connection to %s, attempt %d of %d\n", s.config.Target, attempt+1, maxAttempts)
		}
	}

	s.isOpen = true
	s.mode = entities.ModeShow
	if s.config.IsDebugEnabled() {
		fmt.Printf("DEBUG: Session open on %s\n", s.config.Target)
	}
	return nil
}

// Disconnect closes the transport. It never fails: a close error is
// routed through the diagnostic channel and the session is left closed
// either way, so Disconnect is always safe in deferred cleanup.
func (s *Session) Disconnect() {
	if !s.isOpen {
		return
	}
	if err := s.transport.Close(); err != nil {
		s.diagnostic("transport close failed during disconnect", err)
	}
	s.isOpen = false
	s.mode = entities.ModeNotConnected
	if s.config.IsDebugEnabled() {
		fmt.Printf("DEBUG: Session on %s closed\n", s.config.Target)
	}
}

// IsOpen returns true while the session owns a live transport handle
func (s *Session) IsOpen() bool {
	return s.isOpen
}

// Mode returns the CLI mode the session is currently in
func (s *Session) Mode() entities.Mode {
	return s.mode
}

// SetTranscript attaches a writer that receives every executed command
// together with its cleaned output
func (s *Session) SetTranscript(w io.Writer) {
	s.transcript = w
}

// Hostname returns the device hostname, capturing it from the live
// prompt on first use. The prompt is only reachable from operational
// modes.
func (s *Session) Hostname() (string, error) {
	if !s.isOpen {
		return "", fmt.Errorf("session to %s is closed", s.config.Target)
	}
	if s.hostname != "" {
		return s.hostname, nil
	}
	if err := s.captureHostname(); err != nil {
		return "", err
	}
	return s.hostname, nil
}

// ChangeMode moves the session between CLI modes through the transition
// table. Requesting the current mode succeeds without device traffic.
// Undefined transitions and transport failures leave the mode unchanged
// and report false.
func (s *Session) ChangeMode(target entities.Mode) bool {
	if !s.isOpen {
		return false
	}
	if target == s.mode {
		return true
	}
	if !TransitionAllowed(s.mode, target) {
		if s.config.IsDebugEnabled() {
			fmt.Printf("DEBUG: Transition %s -> %s not defined for %s\n", s.mode, target, s.config.Target)
		}
		return false
	}
	switch {
	case s.mode == entities.ModeShow && target == entities.ModeConfig:
		return s.enterConfigMode()
	case s.mode == entities.ModeConfig && target == entities.ModeShow:
		return s.exitConfigMode()
	}
	return false
}

// Execute runs one or more commands in submission order and returns the
// aggregated output. A zero timeout selects DefaultCommandTimeout and
// an invalid shape selects the session default. A closed session, or a
// CFG batch while the session is not in configuration mode, yields the
// shape's empty rendering with no error.
func (s *Session) Execute(commands []string, mode entities.ExecMode, timeout time.Duration, oneScreen bool, shape entities.OutputShape) (*ExecOutput, error) {
	if !shape.IsValid() {
		shape = s.shape
	}
	out := NewExecOutput(shape)
	if !s.isOpen {
		return out, nil
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	switch mode {
	case entities.ExecConfig:
		if s.mode != entities.ModeConfig {
			return out, nil
		}
		expect := regexp.QuoteMeta(s.hostname + cfgMarker + PromptBase)
		return out, s.runBatch(out, commands, expect, timeout, false)
	default:
		expect := regexp.QuoteMeta(PromptBase)
		return out, s.runBatch(out, commands, expect, timeout, !oneScreen)
	}
}

// Commit runs the validate-then-commit sequence. It never returns an
// error: every failure path resolves to a CommitResult carrying the
// reason. An empty name synthesizes one from the current timestamp.
func (s *Session) Commit(name string, timeout time.Duration, check bool) entities.CommitResult {
	if !s.isOpen || s.mode != entities.ModeConfig {
		return entities.CommitResult{Reason: "session is not in configuration mode"}
	}
	if name == "" {
		name = "auto_" + time.Now().Format("01/02/2006T15_04_05")
	}
	if timeout <= 0 {
		timeout = DefaultCommitTimeout
	}

	expect := regexp.QuoteMeta(s.hostname + cfgMarker + PromptBase)
	output := "ok"
	if check {
		var err error
		output, err = s.transport.SendCommand("commit check", expect, timeout)
		if err != nil {
			return entities.CommitResult{Reason: fmt.Sprintf("commit check failed: %v", err)}
		}
	}

	if strings.Contains(output, commitNotNeeded) {
		// Nothing pending, the commit is a no-op
		return entities.CommitResult{Done: true, Reason: "no pending changes"}
	}
	if strings.Contains(output, commitFailure) {
		return entities.CommitResult{Reason: "commit check reported an error"}
	}
	if _, err := s.transport.SendCommand("commit log "+name, expect, timeout); err != nil {
		return entities.CommitResult{Reason: fmt.Sprintf("commit did not confirm: %v", err)}
	}
	return entities.CommitResult{Done: true}
}

func (s *Session) runBatch(out *ExecOutput, commands []string, expect string, timeout time.Duration, suppressPaging bool) error {
	for _, cmd := range commands {
		if cmd == "" {
			continue
		}
		wire := cmd
		if suppressPaging && !noMorePattern.MatchString(wire) {
			wire += noMoreDirective
		}
		if s.config.IsDebugEnabled() {
			fmt.Printf("DEBUG: Executing %q on %s\n", wire, s.config.Target)
		}
		raw, err := s.transport.SendCommand(wire, expect, timeout)
		if err != nil {
			return fmt.Errorf("error executing %q on %s: %w", cmd, s.config.Target, err)
		}
		cleaned := Clean(raw)
		if s.config.IsRawOutputEnabled() {
			fmt.Printf("Device output for %q:\n%s\n", cmd, cleaned)
		}
		out.Add(cmd, cleaned)
		s.record(cmd, cleaned)
	}
	return nil
}

// captureHostname reads the current prompt and derives the hostname
// from it: control sequences stripped, any parenthetical annotation
// such as an embedded timestamp removed.
func (s *Session) captureHostname() error {
	if s.mode.Category() != entities.CategoryOperational {
		return fmt.Errorf("prompt not reachable in mode %s", s.mode)
	}
	raw, err := s.transport.CurrentPrompt()
	if err != nil {
		return fmt.Errorf("failed to read prompt on %s: %w", s.config.Target, err)
	}
	match := hostnamePattern.FindStringSubmatch(StripControl(raw))
	if match == nil {
		return fmt.Errorf("prompt %q on %s does not end with %s", raw, s.config.Target, PromptBase)
	}
	s.hostname = strings.TrimSpace(annotationPattern.ReplaceAllString(match[1], ""))
	return nil
}

func (s *Session) enterConfigMode() bool {
	// The configuration prompt embeds the hostname, so capture must
	// succeed before the mode can change.
	if err := s.captureHostname(); err != nil {
		s.diagnostic("hostname capture failed before entering configuration mode", err)
		return false
	}
	if _, err := s.transport.SendCommand("configure", regexp.QuoteMeta(PromptBase), DefaultCommandTimeout); err != nil {
		s.diagnostic("failed to enter configuration mode", err)
		return false
	}
	s.mode = entities.ModeConfig
	return true
}

func (s *Session) exitConfigMode() bool {
	if s.config.CommitOnExit {
		if result := s.Commit("", DefaultCommitTimeout, true); !result.Done {
			s.diagnostic("auto-commit before leaving configuration mode failed: "+result.Reason, nil)
		}
	}
	expect := regexp.QuoteMeta(s.hostname + PromptBase)
	if _, err := s.transport.SendCommand("end", expect, DefaultCommandTimeout); err != nil {
		s.diagnostic("failed to leave configuration mode", err)
		return false
	}
	s.mode = entities.ModeShow
	return true
}

func (s *Session) record(cmd, output string) {
	if s.transcript == nil {
		return
	}
	fmt.Fprintf(s.transcript, ">> %s\n%s\n", cmd, output)
}

func (s *Session) diagnostic(msg string, err error) {
	if s.OnDiagnostic != nil {
		s.OnDiagnostic(msg, err)
		return
	}
	if !s.config.IsDebugEnabled() {
		return
	}
	if err != nil {
		fmt.Printf("DEBUG: %s on %s: %v\n", msg, s.config.Target, err)
	} else {
		fmt.Printf("DEBUG: %s on %s\n", msg, s.config.Target)
	}
}

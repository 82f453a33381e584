package transport

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ziutek/telnet"

	"github.com/aravanet/arava/domain/entities"
	"github.com/aravanet/arava/domain/ports"
)

const (
	PromptLogin    = "login:"
	PromptPassword = "Password:"
)

// TelnetTransport drives an interactive shell on a device over Telnet
type TelnetTransport struct {
	config       entities.DeviceConfig
	conn         *telnet.Conn
	authSequence []entities.AuthPrompt
}

// NewTelnetTransport creates a new Telnet transport with the given configuration
func NewTelnetTransport(cfg entities.DeviceConfig) *TelnetTransport {
	return &TelnetTransport{config: cfg}
}

// SetAuthSequence overrides the default login sequence for this transport
func (tt *TelnetTransport) SetAuthSequence(prompts []entities.AuthPrompt) {
	tt.authSequence = prompts
}

// Open dials the device and walks the login prompt sequence until the
// CLI prompt appears. Opening an already open transport is a no-op.
func (tt *TelnetTransport) Open() error {
	if tt.conn != nil {
		return nil
	}

	port := tt.config.Port
	if port == 0 {
		port = 23
	}
	conn, err := telnet.Dial("tcp", tt.config.Target+":"+strconv.Itoa(port))
	if err != nil {
		if isTimeout(err) {
			return &ports.ConnectionTimeoutError{Target: tt.config.Target, Attempts: 1}
		}
		return fmt.Errorf("failed to reach %s: %v", tt.config.Target, err)
	}
	tt.conn = conn
	if tt.config.IsDebugEnabled() {
		fmt.Printf("DEBUG: Connected to %s via Telnet\n", tt.config.Target)
	}

	prompts := tt.authSequence
	if len(prompts) == 0 {
		prompts = []entities.AuthPrompt{
			{WaitFor: PromptLogin, SendCmd: tt.config.Username + "\n"},
			{WaitFor: PromptPassword, SendCmd: tt.config.Password + "\n"},
			{WaitFor: "#", SendCmd: ""},
		}
	}

	for _, p := range prompts {
		output, err := tt.readUntilLiteral(p.WaitFor, DefaultConnectTimeout)
		if err != nil {
			tt.conn.Close()
			tt.conn = nil
			if strings.Contains(output, "incorrect") || strings.Contains(output, "Authentication failed") {
				return &ports.AuthenticationError{Target: tt.config.Target, Err: err}
			}
			return &ports.ConnectionTimeoutError{Target: tt.config.Target, Attempts: 1}
		}
		if p.SendCmd != "" {
			if _, err := tt.conn.Write([]byte(p.SendCmd)); err != nil {
				tt.conn.Close()
				tt.conn = nil
				return fmt.Errorf("failed to answer prompt %q on %s: %v", p.WaitFor, tt.config.Target, err)
			}
			if tt.config.IsDebugEnabled() {
				fmt.Printf("DEBUG: Answered prompt %s on %s\n", p.WaitFor, tt.config.Target)
			}
		}
	}
	return nil
}

// SendCommand writes cmd followed by a newline and reads until the
// expected pattern matches, returning the text the device printed in
// between.
func (tt *TelnetTransport) SendCommand(cmd, expectPattern string, timeout time.Duration) (string, error) {
	if tt.conn == nil {
		return "", fmt.Errorf("transport to %s is not open", tt.config.Target)
	}
	pattern, err := regexp.Compile(expectPattern)
	if err != nil {
		return "", fmt.Errorf("invalid expect pattern %q: %v", expectPattern, err)
	}
	if _, err := tt.conn.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("failed to send %q to %s: %v", cmd, tt.config.Target, err)
	}
	output, err := tt.readUntil(pattern, timeout)
	if err != nil {
		var cmdTimeout *ports.CommandTimeoutError
		if errors.As(err, &cmdTimeout) {
			cmdTimeout.Command = cmd
		}
		return "", err
	}
	return trimExchange(output), nil
}

// CurrentPrompt forces the device to redraw its prompt and returns the
// raw prompt line.
func (tt *TelnetTransport) CurrentPrompt() (string, error) {
	if tt.conn == nil {
		return "", fmt.Errorf("transport to %s is not open", tt.config.Target)
	}
	if _, err := tt.conn.Write([]byte("\n")); err != nil {
		return "", fmt.Errorf("failed to probe prompt on %s: %v", tt.config.Target, err)
	}
	output, err := tt.readUntil(promptTail, promptProbeTimeout)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimRight(output, "\r\n"), "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// Close tears down the Telnet connection
func (tt *TelnetTransport) Close() error {
	if tt.conn == nil {
		return nil
	}
	err := tt.conn.Close()
	tt.conn = nil
	if tt.config.IsDebugEnabled() {
		fmt.Printf("DEBUG: Disconnected from %s\n", tt.config.Target)
	}
	return err
}

func (tt *TelnetTransport) readUntilLiteral(marker string, timeout time.Duration) (string, error) {
	return tt.readUntil(regexp.MustCompile(regexp.QuoteMeta(marker)), timeout)
}

func (tt *TelnetTransport) readUntil(pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	buffer := make([]byte, BufferSize)
	var output strings.Builder
	output.Grow(BufferSize)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		_ = tt.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := tt.conn.Read(buffer)
		if n > 0 {
			output.Write(buffer[:n])
			if tt.config.IsRawOutputEnabled() {
				fmt.Printf("Device output: Read: %s\n", string(buffer[:n]))
			}
			if pattern.MatchString(output.String()) {
				return output.String(), nil
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return output.String(), fmt.Errorf("read error: %v", err)
		}
	}
	return output.String(), &ports.CommandTimeoutError{Pattern: pattern.String(), Timeout: timeout}
}

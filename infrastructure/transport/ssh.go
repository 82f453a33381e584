package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/aravanet/arava/domain/entities"
	"github.com/aravanet/arava/domain/ports"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	BufferSize            = 4096

	promptProbeTimeout = 5 * time.Second
)

// promptTail matches the bare DNOS prompt terminator, used to drain the
// login banner and to redraw the prompt.
var promptTail = regexp.MustCompile(`#`)

// SSHTransport drives an interactive shell on a device over SSH
type SSHTransport struct {
	config  entities.DeviceConfig
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	reader  *bufio.Reader
	netConn net.Conn
}

// NewSSHTransport creates a new SSH transport with the given configuration
func NewSSHTransport(cfg entities.DeviceConfig) *SSHTransport {
	return &SSHTransport{config: cfg}
}

// Open dials the device, authenticates and starts an interactive shell
// with a PTY. Opening an already open transport is a no-op.
func (st *SSHTransport) Open() error {
	if st.session != nil {
		return nil
	}

	port := st.config.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(st.config.Target, strconv.Itoa(port))
	sshConfig := &ssh.ClientConfig{
		User:            st.config.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(st.config.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         DefaultConnectTimeout,
	}

	dialer := &net.Dialer{Timeout: DefaultConnectTimeout}
	rawConn, err := dialer.Dial("tcp", addr)
	if err != nil {
		if isTimeout(err) {
			return &ports.ConnectionTimeoutError{Target: st.config.Target, Attempts: 1}
		}
		return fmt.Errorf("failed to reach %s: %v", st.config.Target, err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(rawConn, addr, sshConfig)
	if err != nil {
		rawConn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return &ports.AuthenticationError{Target: st.config.Target, Err: err}
		}
		if isTimeout(err) {
			return &ports.ConnectionTimeoutError{Target: st.config.Target, Attempts: 1}
		}
		return fmt.Errorf("failed to establish SSH connection to %s: %v", st.config.Target, err)
	}

	client := ssh.NewClient(clientConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		rawConn.Close()
		return fmt.Errorf("failed to create SSH session for %s: %v", st.config.Target, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 9600,
		ssh.TTY_OP_OSPEED: 9600,
	}
	if err := session.RequestPty("vt100", 80, 40, modes); err != nil {
		session.Close()
		client.Close()
		rawConn.Close()
		return fmt.Errorf("failed to request PTY for %s: %v", st.config.Target, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		rawConn.Close()
		return fmt.Errorf("failed to get stdin pipe for %s: %v", st.config.Target, err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		rawConn.Close()
		return fmt.Errorf("failed to get stdout pipe for %s: %v", st.config.Target, err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		rawConn.Close()
		return fmt.Errorf("failed to start shell for %s: %v", st.config.Target, err)
	}

	st.client = client
	st.session = session
	st.stdin = stdin
	st.reader = bufio.NewReader(stdout)
	st.netConn = rawConn

	if st.config.IsDebugEnabled() {
		fmt.Printf("DEBUG: Connected to %s via SSH\n", st.config.Target)
	}

	// Drain the login banner up to the first prompt
	if _, err := st.readUntil(promptTail, DefaultConnectTimeout); err != nil {
		st.Close()
		var cmdTimeout *ports.CommandTimeoutError
		if errors.As(err, &cmdTimeout) {
			return &ports.ConnectionTimeoutError{Target: st.config.Target, Attempts: 1}
		}
		return err
	}
	return nil
}

// SendCommand writes cmd followed by a newline and reads until the
// expected pattern matches. The returned text excludes the echoed
// command line and the prompt line, matching what the device printed in
// between.
func (st *SSHTransport) SendCommand(cmd, expectPattern string, timeout time.Duration) (string, error) {
	if st.session == nil {
		return "", fmt.Errorf("transport to %s is not open", st.config.Target)
	}
	pattern, err := regexp.Compile(expectPattern)
	if err != nil {
		return "", fmt.Errorf("invalid expect pattern %q: %v", expectPattern, err)
	}
	if err := st.send(cmd + "\n"); err != nil {
		return "", fmt.Errorf("failed to send %q to %s: %v", cmd, st.config.Target, err)
	}
	output, err := st.readUntil(pattern, timeout)
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
func (st *SSHTransport) CurrentPrompt() (string, error) {
	if st.session == nil {
		return "", fmt.Errorf("transport to %s is not open", st.config.Target)
	}
	if err := st.send("\n"); err != nil {
		return "", fmt.Errorf("failed to probe prompt on %s: %v", st.config.Target, err)
	}
	output, err := st.readUntil(promptTail, promptProbeTimeout)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimRight(output, "\r\n"), "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// Close tears down the shell channel and the underlying connection. The
// first close failure is reported, later steps still run.
func (st *SSHTransport) Close() error {
	var firstErr error
	if st.session != nil {
		if err := st.session.Close(); err != nil && err != io.EOF {
			firstErr = err
		}
		st.session = nil
	}
	if st.client != nil {
		if err := st.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		st.client = nil
	}
	if st.netConn != nil {
		st.netConn.Close()
		st.netConn = nil
	}
	st.stdin = nil
	st.reader = nil
	if st.config.IsDebugEnabled() {
		fmt.Printf("DEBUG: Disconnected from %s\n", st.config.Target)
	}
	return firstErr
}

func (st *SSHTransport) send(data string) error {
	_, err := st.stdin.Write([]byte(data))
	return err
}

func (st *SSHTransport) readUntil(pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	buffer := make([]byte, BufferSize)
	var output strings.Builder
	output.Grow(BufferSize)
	deadline := time.Now().Add(timeout)

	for {
		if st.netConn != nil {
			_ = st.netConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		}

		n, err := st.reader.Read(buffer)
		if n > 0 {
			output.Write(buffer[:n])
			if st.config.IsRawOutputEnabled() {
				fmt.Printf("Device output: Read: %s\n", string(buffer[:n]))
			}
			if pattern.MatchString(output.String()) {
				return output.String(), nil
			}
		}

		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if time.Now().After(deadline) {
					return output.String(), &ports.CommandTimeoutError{Pattern: pattern.String(), Timeout: timeout}
				}
				continue
			}
			return output.String(), fmt.Errorf("read error: %v", err)
		}

		if time.Now().After(deadline) {
			return output.String(), &ports.CommandTimeoutError{Pattern: pattern.String(), Timeout: timeout}
		}
	}
}

// trimExchange drops the echoed command line and the trailing prompt
// line from one captured exchange.
func trimExchange(output string) string {
	lines := strings.Split(output, "\n")
	if len(lines) > 1 {
		return strings.Join(lines[1:len(lines)-1], "\n")
	}
	return ""
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "i/o timeout")
}

package services

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aravanet/arava/domain/entities"
	"github.com/aravanet/arava/domain/ports"
)

type sentCommand struct {
	cmd     string
	expect  string
	timeout time.Duration
}

type mockTransport struct {
	openCalls  int
	openErrs   []error
	prompt     string
	promptErr  error
	sent       []sentCommand
	responses  map[string][]string
	sendErrs   map[string]error
	closeErr   error
	closeCalls int
}

func (m *mockTransport) Open() error {
	m.openCalls++
	if len(m.openErrs) > 0 {
		err := m.openErrs[0]
		m.openErrs = m.openErrs[1:]
		return err
	}
	return nil
}

func (m *mockTransport) SendCommand(cmd, expectPattern string, timeout time.Duration) (string, error) {
	m.sent = append(m.sent, sentCommand{cmd: cmd, expect: expectPattern, timeout: timeout})
	if m.sendErrs != nil {
		if err, ok := m.sendErrs[cmd]; ok {
			return "", err
		}
	}
	if queue, ok := m.responses[cmd]; ok && len(queue) > 0 {
		response := queue[0]
		m.responses[cmd] = queue[1:]
		return response, nil
	}
	return "", nil
}

func (m *mockTransport) CurrentPrompt() (string, error) {
	return m.prompt, m.promptErr
}

func (m *mockTransport) Close() error {
	m.closeCalls++
	return m.closeErr
}

func (m *mockTransport) sentCommands() []string {
	out := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.cmd)
	}
	return out
}

func testConfig() entities.DeviceConfig {
	return entities.DeviceConfig{
		Target:      "10.0.0.1",
		Transport:   "ssh",
		Username:    "dnroot",
		Password:    "dnroot",
		OutputShape: "text",
	}
}

func openSession(t *testing.T, cfg entities.DeviceConfig, transport *mockTransport) *Session {
	t.Helper()
	session := NewSession(cfg, transport)
	if err := session.Connect(); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	return session
}

func enterConfig(t *testing.T, session *Session, transport *mockTransport) {
	t.Helper()
	if transport.prompt == "" {
		transport.prompt = "router1#"
	}
	if !session.ChangeMode(entities.ModeConfig) {
		t.Fatal("ChangeMode(CFG) failed")
	}
	transport.sent = nil
}

func TestConnectSetsShowMode(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)

	if !session.IsOpen() {
		t.Error("session must be open after Connect()")
	}
	if session.Mode() != entities.ModeShow {
		t.Errorf("Mode() = %s, want %s", session.Mode(), entities.ModeShow)
	}
	if session.Mode().Category() != entities.CategoryOperational {
		t.Errorf("category = %s, want OPERATIONAL", session.Mode().Category())
	}
}

func TestConnectIdempotent(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)

	if err := session.Connect(); err != nil {
		t.Fatalf("second Connect() failed: %v", err)
	}
	if transport.openCalls != 1 {
		t.Errorf("transport opened %d times, want 1", transport.openCalls)
	}
}

func TestConnectRetryExhausted(t *testing.T) {
	transport := &mockTransport{
		openErrs: []error{
			&ports.ConnectionTimeoutError{Target: "10.0.0.1"},
			&ports.ConnectionTimeoutError{Target: "10.0.0.1"},
			&ports.ConnectionTimeoutError{Target: "10.0.0.1"},
		},
	}
	cfg := testConfig()
	cfg.Reconnect = true
	cfg.ReconnectRetry = 3

	session := NewSession(cfg, transport)
	err := session.Connect()
	if err == nil {
		t.Fatal("Connect() must fail when every attempt times out")
	}
	var timeoutErr *ports.ConnectionTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error is %T, want *ConnectionTimeoutError", err)
	}
	if timeoutErr.Attempts != 3 {
		t.Errorf("reported %d attempts, want 3", timeoutErr.Attempts)
	}
	if transport.openCalls != 3 {
		t.Errorf("transport opened %d times, want 3", transport.openCalls)
	}
	if session.IsOpen() {
		t.Error("session must stay closed after exhausted retries")
	}
}

func TestConnectRecoversWithinRetryBudget(t *testing.T) {
	transport := &mockTransport{
		openErrs: []error{&ports.ConnectionTimeoutError{Target: "10.0.0.1"}},
	}
	cfg := testConfig()
	cfg.Reconnect = true
	cfg.ReconnectRetry = 3

	session := NewSession(cfg, transport)
	if err := session.Connect(); err != nil {
		t.Fatalf("Connect() failed despite retry budget: %v", err)
	}
	if transport.openCalls != 2 {
		t.Errorf("transport opened %d times, want 2", transport.openCalls)
	}
}

func TestConnectAuthFailureIsFatal(t *testing.T) {
	transport := &mockTransport{
		openErrs: []error{&ports.AuthenticationError{Target: "10.0.0.1", Err: errors.New("denied")}},
	}
	cfg := testConfig()
	cfg.Reconnect = true
	cfg.ReconnectRetry = 3

	session := NewSession(cfg, transport)
	err := session.Connect()
	var authErr *ports.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error is %T, want *AuthenticationError", err)
	}
	if transport.openCalls != 1 {
		t.Errorf("auth failure was retried: %d open calls", transport.openCalls)
	}
}

func TestConnectTimeoutWithoutReconnect(t *testing.T) {
	transport := &mockTransport{
		openErrs: []error{&ports.ConnectionTimeoutError{Target: "10.0.0.1"}},
	}
	session := NewSession(testConfig(), transport)
	err := session.Connect()
	var timeoutErr *ports.ConnectionTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error is %T, want *ConnectionTimeoutError", err)
	}
	if transport.openCalls != 1 {
		t.Errorf("transport opened %d times, want 1", transport.openCalls)
	}
}

func TestDisconnectSwallowsCloseError(t *testing.T) {
	transport := &mockTransport{closeErr: errors.New("broken pipe")}
	session := openSession(t, testConfig(), transport)

	var diagMsg string
	var diagErr error
	session.OnDiagnostic = func(msg string, err error) {
		diagMsg = msg
		diagErr = err
	}

	session.Disconnect()
	if session.IsOpen() {
		t.Error("session must be closed even when transport close fails")
	}
	if session.Mode() != entities.ModeNotConnected {
		t.Errorf("Mode() = %s, want NOT_CONNECTED", session.Mode())
	}
	if diagMsg == "" || diagErr == nil {
		t.Error("swallowed close error must reach the diagnostic channel")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)

	session.Disconnect()
	session.Disconnect()
	if transport.closeCalls != 1 {
		t.Errorf("transport closed %d times, want 1", transport.closeCalls)
	}
}

func TestChangeModeSameModeIsNoop(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)

	if !session.ChangeMode(entities.ModeShow) {
		t.Error("requesting the current mode must succeed")
	}
	if len(transport.sent) != 0 {
		t.Errorf("no-op mode change sent %v to the device", transport.sentCommands())
	}
	if session.Mode() != entities.ModeShow {
		t.Errorf("Mode() = %s, want SHOW", session.Mode())
	}
}

func TestChangeModeDeniedForUndefinedTransition(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)

	if session.ChangeMode(entities.ModeShell) {
		t.Error("SHOW -> SHELL must be denied")
	}
	if session.Mode() != entities.ModeShow {
		t.Errorf("denied transition changed mode to %s", session.Mode())
	}
	if len(transport.sent) != 0 {
		t.Errorf("denied transition sent %v to the device", transport.sentCommands())
	}
}

func TestChangeModeOnClosedSession(t *testing.T) {
	session := NewSession(testConfig(), &mockTransport{})
	if session.ChangeMode(entities.ModeConfig) {
		t.Error("mode change on a closed session must fail")
	}
}

func TestEnterConfigMode(t *testing.T) {
	transport := &mockTransport{prompt: "router1#"}
	session := openSession(t, testConfig(), transport)

	if !session.ChangeMode(entities.ModeConfig) {
		t.Fatal("ChangeMode(CFG) failed")
	}
	if session.Mode() != entities.ModeConfig {
		t.Errorf("Mode() = %s, want CFG", session.Mode())
	}
	if len(transport.sent) != 1 || transport.sent[0].cmd != "configure" {
		t.Fatalf("sent %v, want [configure]", transport.sentCommands())
	}
	if transport.sent[0].expect != "#" {
		t.Errorf("configure expected pattern %q, want \"#\"", transport.sent[0].expect)
	}

	hostname, err := session.Hostname()
	if err != nil {
		t.Fatalf("Hostname() failed: %v", err)
	}
	if hostname != "router1" {
		t.Errorf("Hostname() = %q, want router1", hostname)
	}
}

func TestEnterConfigModeStripsPromptAnnotations(t *testing.T) {
	// Prompt carries color codes and an embedded timestamp annotation
	transport := &mockTransport{prompt: "\x1B[32mrouter1(12:30:45)#\x1B[0m"}
	session := openSession(t, testConfig(), transport)

	if !session.ChangeMode(entities.ModeConfig) {
		t.Fatal("ChangeMode(CFG) failed")
	}
	hostname, err := session.Hostname()
	if err != nil {
		t.Fatalf("Hostname() failed: %v", err)
	}
	if hostname != "router1" {
		t.Errorf("Hostname() = %q, want router1", hostname)
	}
}

func TestEnterConfigModeFailsWhenPromptUnreadable(t *testing.T) {
	transport := &mockTransport{promptErr: errors.New("no prompt")}
	session := openSession(t, testConfig(), transport)

	if session.ChangeMode(entities.ModeConfig) {
		t.Error("mode change must fail when the hostname cannot be captured")
	}
	if session.Mode() != entities.ModeShow {
		t.Errorf("failed transition changed mode to %s", session.Mode())
	}
	if len(transport.sent) != 0 {
		t.Errorf("failed capture still sent %v", transport.sentCommands())
	}
}

func TestEnterConfigModeFailsOnTransportError(t *testing.T) {
	transport := &mockTransport{
		prompt:   "router1#",
		sendErrs: map[string]error{"configure": &ports.CommandTimeoutError{Command: "configure"}},
	}
	session := openSession(t, testConfig(), transport)

	if session.ChangeMode(entities.ModeConfig) {
		t.Error("mode change must fail when the device never confirms")
	}
	if session.Mode() != entities.ModeShow {
		t.Errorf("failed transition changed mode to %s", session.Mode())
	}
}

func TestExitConfigMode(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)
	enterConfig(t, session, transport)

	if !session.ChangeMode(entities.ModeShow) {
		t.Fatal("ChangeMode(SHOW) failed")
	}
	if session.Mode() != entities.ModeShow {
		t.Errorf("Mode() = %s, want SHOW", session.Mode())
	}
	if len(transport.sent) != 1 || transport.sent[0].cmd != "end" {
		t.Fatalf("sent %v, want [end]", transport.sentCommands())
	}
	if transport.sent[0].expect != "router1#" {
		t.Errorf("end expected pattern %q, want router1#", transport.sent[0].expect)
	}
}

func TestExecuteAppendsPaginationDirective(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)

	if _, err := session.Execute([]string{"show system"}, entities.ExecShow, 0, false, entities.ShapeText); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if len(transport.sent) != 1 || transport.sent[0].cmd != "show system | no-more" {
		t.Errorf("sent %v, want [show system | no-more]", transport.sentCommands())
	}
}

func TestExecuteKeepsExistingPaginationDirective(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)

	session.Execute([]string{"show system | no-more"}, entities.ExecShow, 0, false, entities.ShapeText)
	if transport.sent[0].cmd != "show system | no-more" {
		t.Errorf("directive was duplicated: %q", transport.sent[0].cmd)
	}
}

func TestExecuteOneScreenSkipsPaginationDirective(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)

	session.Execute([]string{"show system"}, entities.ExecShow, 0, true, entities.ShapeText)
	if transport.sent[0].cmd != "show system" {
		t.Errorf("single-screen execution modified the command: %q", transport.sent[0].cmd)
	}
}

func TestExecuteUsesShowPromptPattern(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)

	session.Execute([]string{"show system"}, entities.ExecShow, 7*time.Second, false, entities.ShapeText)
	if transport.sent[0].expect != "#" {
		t.Errorf("expected pattern %q, want \"#\"", transport.sent[0].expect)
	}
	if transport.sent[0].timeout != 7*time.Second {
		t.Errorf("timeout %s, want 7s", transport.sent[0].timeout)
	}
}

func TestExecuteUsesConfigPromptPattern(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)
	enterConfig(t, session, transport)

	session.Execute([]string{"interfaces ge100-0/0/1 admin-state enabled"}, entities.ExecConfig, 0, false, entities.ShapeText)
	if len(transport.sent) != 1 {
		t.Fatalf("sent %v, want one command", transport.sentCommands())
	}
	if transport.sent[0].expect != `router1\(cfg\)#` {
		t.Errorf("expected pattern %q, want router1\\(cfg\\)#", transport.sent[0].expect)
	}
	if strings.Contains(transport.sent[0].cmd, "no-more") {
		t.Errorf("configuration command gained a pagination directive: %q", transport.sent[0].cmd)
	}
}

// Boundary case: the executor keeps a permissive contract and renders
// empty output instead of failing when preconditions are not met.
func TestExecuteOnClosedSessionYieldsEmpty(t *testing.T) {
	transport := &mockTransport{}
	session := NewSession(testConfig(), transport)

	out, err := session.Execute([]string{"show system"}, entities.ExecShow, 0, false, entities.ShapeText)
	if err != nil {
		t.Fatalf("Execute() on closed session returned error: %v", err)
	}
	if out.Text() != "" {
		t.Errorf("Text() = %q, want empty", out.Text())
	}
	if len(transport.sent) != 0 {
		t.Errorf("closed session sent %v", transport.sentCommands())
	}
}

// Boundary case: a CFG batch outside configuration mode silently does
// nothing rather than raising.
func TestExecuteConfigBatchOutsideConfigModeYieldsEmpty(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)

	out, err := session.Execute([]string{"set something"}, entities.ExecConfig, 0, false, entities.ShapeList)
	if err != nil {
		t.Fatalf("Execute() returned error: %v", err)
	}
	if len(out.List()) != 0 {
		t.Errorf("List() = %v, want empty", out.List())
	}
	if len(transport.sent) != 0 {
		t.Errorf("mismatched mode sent %v", transport.sentCommands())
	}
}

func TestExecuteCleansCapturedOutput(t *testing.T) {
	transport := &mockTransport{
		responses: map[string][]string{
			"show system | no-more": {"\x1B[31mHello\x1B[0m\nHello\n"},
		},
	}
	session := openSession(t, testConfig(), transport)

	out, err := session.Execute([]string{"show system"}, entities.ExecShow, 0, false, entities.ShapeList)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if got := out.List(); len(got) != 1 || got[0] != "Hello\n" {
		t.Errorf("List() = %q, want [\"Hello\\n\"]", got)
	}
}

func TestExecuteMappingShapeWithDuplicates(t *testing.T) {
	transport := &mockTransport{
		responses: map[string][]string{
			"show system | no-more":  {"first\nfirst", "second\nsecond"},
			"show version | no-more": {"only\nonly"},
		},
	}
	session := openSession(t, testConfig(), transport)

	out, err := session.Execute([]string{"show system", "show version", "show system"}, entities.ExecShow, 0, false, entities.ShapeMap)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	rendered := out.Map()
	if len(rendered) != 2 {
		t.Fatalf("Map() has %d keys, want 2", len(rendered))
	}
	// Keys carry the original command text, not the wire text
	system := rendered["show system"]
	if len(system) != 2 || system[0] != "first\n" || system[1] != "second\n" {
		t.Errorf("Map()[show system] = %q, want [first\\n second\\n]", system)
	}
	if version := rendered["show version"]; len(version) != 1 || version[0] != "only\n" {
		t.Errorf("Map()[show version] = %q, want [only\\n]", version)
	}
}

func TestExecuteCommandTimeoutLeavesSessionUsable(t *testing.T) {
	transport := &mockTransport{
		sendErrs: map[string]error{
			"show system | no-more": &ports.CommandTimeoutError{Command: "show system", Timeout: time.Second},
		},
	}
	session := openSession(t, testConfig(), transport)

	_, err := session.Execute([]string{"show system"}, entities.ExecShow, 0, false, entities.ShapeText)
	var cmdTimeout *ports.CommandTimeoutError
	if !errors.As(err, &cmdTimeout) {
		t.Fatalf("error is %T, want *CommandTimeoutError", err)
	}
	if !session.IsOpen() {
		t.Error("a command timeout must not close the session")
	}
	if session.Mode() != entities.ModeShow {
		t.Errorf("a command timeout changed mode to %s", session.Mode())
	}
}

func TestTranscriptReceivesCommandsAndOutput(t *testing.T) {
	transport := &mockTransport{
		responses: map[string][]string{"show system | no-more": {"body\nbody"}},
	}
	session := openSession(t, testConfig(), transport)

	var transcript bytes.Buffer
	session.SetTranscript(&transcript)

	if _, err := session.Execute([]string{"show system"}, entities.ExecShow, 0, false, entities.ShapeText); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	logged := transcript.String()
	if !strings.Contains(logged, "show system") || !strings.Contains(logged, "body") {
		t.Errorf("transcript %q missing command or output", logged)
	}
}

func TestCommitOutsideConfigMode(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)

	result := session.Commit("x", 0, true)
	if result.Done {
		t.Error("commit outside CFG mode must fail")
	}
	if len(transport.sent) != 0 {
		t.Errorf("commit outside CFG mode sent %v", transport.sentCommands())
	}
}

func TestCommitValidationErrorAbortsCommit(t *testing.T) {
	transport := &mockTransport{
		responses: map[string][]string{
			"commit check": {"ERROR: interface ge100-0/0/1 does not exist"},
		},
	}
	session := openSession(t, testConfig(), transport)
	enterConfig(t, session, transport)

	result := session.Commit("x", 0, true)
	if result.Done {
		t.Error("commit must fail when validation reports an error")
	}
	sent := transport.sentCommands()
	if len(sent) != 1 || sent[0] != "commit check" {
		t.Errorf("sent %v, want only [commit check]", sent)
	}
}

func TestCommitNoPendingChangesIsNoop(t *testing.T) {
	transport := &mockTransport{
		responses: map[string][]string{
			"commit check": {"NOTICE: commit action is not applicable"},
		},
	}
	session := openSession(t, testConfig(), transport)
	enterConfig(t, session, transport)

	result := session.Commit("x", 0, true)
	if !result.Done {
		t.Errorf("no-op commit must succeed, got reason %q", result.Reason)
	}
	sent := transport.sentCommands()
	if len(sent) != 1 || sent[0] != "commit check" {
		t.Errorf("sent %v, want only [commit check]", sent)
	}
}

func TestCommitSendsNamedCommit(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)
	enterConfig(t, session, transport)

	result := session.Commit("maintenance", 0, true)
	if !result.Done {
		t.Errorf("commit failed: %s", result.Reason)
	}
	sent := transport.sentCommands()
	if len(sent) != 2 || sent[0] != "commit check" || sent[1] != "commit log maintenance" {
		t.Errorf("sent %v, want [commit check, commit log maintenance]", sent)
	}
	if transport.sent[1].expect != `router1\(cfg\)#` {
		t.Errorf("commit expected pattern %q", transport.sent[1].expect)
	}
}

func TestCommitSynthesizesDefaultName(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)
	enterConfig(t, session, transport)

	session.Commit("", 0, false)
	sent := transport.sentCommands()
	if len(sent) != 1 {
		t.Fatalf("sent %v, want one command", sent)
	}
	if !strings.HasPrefix(sent[0], "commit log auto_") {
		t.Errorf("default commit name not synthesized: %q", sent[0])
	}
}

func TestCommitSkipsValidationWhenDisabled(t *testing.T) {
	transport := &mockTransport{}
	session := openSession(t, testConfig(), transport)
	enterConfig(t, session, transport)

	session.Commit("fast", 0, false)
	sent := transport.sentCommands()
	if len(sent) != 1 || sent[0] != "commit log fast" {
		t.Errorf("sent %v, want [commit log fast]", sent)
	}
}

func TestCommitTimeoutResolvesToFailedOutcome(t *testing.T) {
	transport := &mockTransport{
		sendErrs: map[string]error{
			"commit log slow": &ports.CommandTimeoutError{Command: "commit log slow", Timeout: time.Second},
		},
	}
	session := openSession(t, testConfig(), transport)
	enterConfig(t, session, transport)

	result := session.Commit("slow", 0, false)
	if result.Done {
		t.Error("commit must report failure when confirmation times out")
	}
	if result.Reason == "" {
		t.Error("failed commit must carry a reason")
	}
	if !session.IsOpen() {
		t.Error("a commit timeout must not close the session")
	}
}

func TestCommitOnExitRunsBeforeLeavingConfigMode(t *testing.T) {
	transport := &mockTransport{}
	cfg := testConfig()
	cfg.CommitOnExit = true
	session := openSession(t, cfg, transport)
	enterConfig(t, session, transport)

	if !session.ChangeMode(entities.ModeShow) {
		t.Fatal("ChangeMode(SHOW) failed")
	}
	sent := transport.sentCommands()
	if len(sent) != 3 {
		t.Fatalf("sent %v, want commit check, commit log, end", sent)
	}
	if sent[0] != "commit check" || !strings.HasPrefix(sent[1], "commit log auto_") || sent[2] != "end" {
		t.Errorf("unexpected command order: %v", sent)
	}
}

func TestHostnameOnClosedSession(t *testing.T) {
	session := NewSession(testConfig(), &mockTransport{})
	if _, err := session.Hostname(); err == nil {
		t.Error("Hostname() on a closed session must fail")
	}
}

func TestExecuteDefaultShapeFromConfig(t *testing.T) {
	transport := &mockTransport{}
	cfg := testConfig()
	cfg.OutputShape = "map"
	session := openSession(t, cfg, transport)

	out, err := session.Execute([]string{"show system"}, entities.ExecShow, 0, false, entities.OutputShape(""))
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if out.Shape() != entities.ShapeMap {
		t.Errorf("Shape() = %s, want map", out.Shape())
	}
}

func ExampleSession_Execute() {
	transport := &mockTransport{
		responses: map[string][]string{
			"show system | no-more": {"system info\nsystem info"},
		},
	}
	session := NewSession(testConfig(), transport)
	session.Connect()
	out, _ := session.Execute([]string{"show system"}, entities.ExecShow, 0, false, entities.ShapeText)
	fmt.Print(out.Text())
	// Output:
	// system info
}

package ports

import "time"

// Transport defines the port for an interactive terminal channel to a
// device. Implementations own the raw byte stream; the session core
// drives them one command at a time.
type Transport interface {
	// Open establishes the shell channel and completes authentication
	Open() error
	// SendCommand writes cmd and reads until expectPattern (a regular
	// expression) matches the captured text or timeout elapses
	SendCommand(cmd, expectPattern string, timeout time.Duration) (string, error)
	// CurrentPrompt returns the raw prompt text of the remote shell
	CurrentPrompt() (string, error)
	// Close tears down the channel
	Close() error
}

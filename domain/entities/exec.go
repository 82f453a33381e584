package entities

// ExecMode selects which CLI mode a command batch targets
type ExecMode int

const (
	// ExecShow runs commands against the read-only operational prompt
	ExecShow ExecMode = iota
	// ExecConfig runs commands against the configuration prompt; the
	// session must already be in configuration mode
	ExecConfig
)

// CommitResult reports the outcome of a configuration commit. Done is
// false when the commit was aborted or never confirmed; Reason explains
// why when it is known.
type CommitResult struct {
	Done   bool
	Reason string
}

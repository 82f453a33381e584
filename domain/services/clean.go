package services

import (
	"regexp"
	"strings"
)

var (
	colorSeq  = regexp.MustCompile(`\x1B\[\d+(;\d+){0,2}m`)
	cursorSeq = regexp.MustCompile(`\x1B\[F`)
	titleSeq  = regexp.MustCompile(`^.*\x07`)
)

// StripControl removes color and style sequences, cursor repositioning
// sequences and any bell-terminated title update prefix from captured
// terminal output.
func StripControl(text string) string {
	stripped := colorSeq.ReplaceAllString(text, "")
	stripped = cursorSeq.ReplaceAllString(stripped, "")
	return titleSeq.ReplaceAllString(stripped, "")
}

// CollapseEchoTail drops the duplicated final line that echo suppression
// leaves behind, replacing it with a single trailing newline. Text with
// a single line is returned untouched.
func CollapseEchoTail(text string) string {
	trimmed := strings.TrimSuffix(text, "\n")
	idx := strings.LastIndex(trimmed, "\n")
	if idx < 0 {
		return text
	}
	return trimmed[:idx] + "\n"
}

// Clean applies the full output cleanup pipeline to one captured
// response. Empty responses pass through unchanged.
func Clean(text string) string {
	if text == "" {
		return text
	}
	return CollapseEchoTail(StripControl(text))
}

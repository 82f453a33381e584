package services

import (
	"strings"

	"github.com/aravanet/arava/domain/entities"
)

// ExecOutput accumulates per-command output in execution order and
// renders it in the shape the caller selected. It lives for a single
// Execute call and is discarded after rendering.
type ExecOutput struct {
	shape   entities.OutputShape
	records []entities.OutputRecord
}

// NewExecOutput creates an aggregator rendering to the given shape.
// Unknown shapes fall back to text.
func NewExecOutput(shape entities.OutputShape) *ExecOutput {
	if !shape.IsValid() {
		shape = entities.ShapeText
	}
	return &ExecOutput{shape: shape}
}

// Add appends one (command, output) pair in execution order
func (eo *ExecOutput) Add(cmd, output string) {
	eo.records = append(eo.records, entities.OutputRecord{Command: cmd, Output: output})
}

// Shape returns the selected output shape
func (eo *ExecOutput) Shape() entities.OutputShape {
	return eo.shape
}

// Records returns the captured records in execution order
func (eo *ExecOutput) Records() []entities.OutputRecord {
	out := make([]entities.OutputRecord, len(eo.records))
	copy(out, eo.records)
	return out
}

// Text renders every output joined with a line break, in order. An
// empty aggregator renders to the empty string.
func (eo *ExecOutput) Text() string {
	var sb strings.Builder
	for _, rec := range eo.records {
		sb.WriteString(rec.Output)
		sb.WriteString("\n")
	}
	return sb.String()
}

// List renders every output in order, one entry per executed command.
// Duplicate commands keep their positional outputs.
func (eo *ExecOutput) List() []string {
	out := make([]string, 0, len(eo.records))
	for _, rec := range eo.records {
		out = append(out, rec.Output)
	}
	return out
}

// Map renders outputs keyed by command text. A command repeated in the
// batch accumulates all of its outputs in submission order.
func (eo *ExecOutput) Map() map[string][]string {
	out := make(map[string][]string, len(eo.records))
	for _, rec := range eo.records {
		out[rec.Command] = append(out[rec.Command], rec.Output)
	}
	return out
}

// Render returns the representation matching the selected shape
func (eo *ExecOutput) Render() any {
	switch eo.shape {
	case entities.ShapeList:
		return eo.List()
	case entities.ShapeMap:
		return eo.Map()
	default:
		return eo.Text()
	}
}

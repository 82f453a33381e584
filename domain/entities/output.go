package entities

// OutputShape selects how aggregated command output is rendered
type OutputShape string

const (
	ShapeText OutputShape = "text"
	ShapeList OutputShape = "list"
	ShapeMap  OutputShape = "map"
)

// IsValid returns true if the shape is one of the supported renderings
func (s OutputShape) IsValid() bool {
	switch s {
	case ShapeText, ShapeList, ShapeMap:
		return true
	}
	return false
}

// OutputRecord pairs a command with the output captured for it
type OutputRecord struct {
	Command string
	Output  string
}

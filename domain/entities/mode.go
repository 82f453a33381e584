package entities

// Category classifies a CLI mode by the kind of shell behind it
type Category string

const (
	CategoryClosed      Category = "CLOSED"
	CategoryOperational Category = "OPERATIONAL"
	CategoryShell       Category = "SHELL"
	CategoryDebug       Category = "DEBUG"
)

// Mode identifies the CLI context a device session is currently in
type Mode string

const (
	ModeNotConnected Mode = "NOT_CONNECTED"
	ModeShow         Mode = "SHOW"
	ModeConfig       Mode = "CFG"
	ModeShell        Mode = "SHELL"
	ModeHost         Mode = "HOST"
	ModeNetns        Mode = "NETNS"
	ModeRescue       Mode = "RESCUE"
	ModeGDB          Mode = "GDB"
)

var modeCategories = map[Mode]Category{
	ModeNotConnected: CategoryClosed,
	ModeShow:         CategoryOperational,
	ModeConfig:       CategoryOperational,
	ModeShell:        CategoryShell,
	ModeHost:         CategoryShell,
	ModeNetns:        CategoryShell,
	ModeRescue:       CategoryDebug,
	ModeGDB:          CategoryDebug,
}

// Category returns the category tag attached to the mode. Unknown modes
// report CategoryClosed so callers branching on the category never treat
// them as usable.
func (m Mode) Category() Category {
	if category, ok := modeCategories[m]; ok {
		return category
	}
	return CategoryClosed
}

// IsValid returns true if the mode belongs to the known enumeration
func (m Mode) IsValid() bool {
	_, ok := modeCategories[m]
	return ok
}

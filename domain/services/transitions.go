package services

import "github.com/aravanet/arava/domain/entities"

// modeEdges lists the legal mode transitions. Only the operational pair
// SHOW and CFG is connected; a request for any other pair is denied
// without touching session state.
var modeEdges = map[entities.Mode][]entities.Mode{
	entities.ModeShow:   {entities.ModeConfig},
	entities.ModeConfig: {entities.ModeShow},
}

// TransitionAllowed returns true if the state machine defines an edge
// from current to target
func TransitionAllowed(current, target entities.Mode) bool {
	for _, mode := range modeEdges[current] {
		if mode == target {
			return true
		}
	}
	return false
}

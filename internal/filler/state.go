package filler

import "fmt"

// State is a step of the linear fill state machine.
type State int

const (
	Idle State = iota
	Navigating
	UploadingDocuments
	FillingFields
	Complete
	// Stopped is entered from any non-terminal state once a stop is observed.
	Stopped
	// Failed is entered on a fatal error such as a failed navigation.
	Failed
)

var stateNames = map[State]string{
	Idle:               "idle",
	Navigating:         "navigating",
	UploadingDocuments: "uploading",
	FillingFields:      "filling",
	Complete:           "complete",
	Stopped:            "stopped",
	Failed:             "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Complete || s == Stopped || s == Failed
}

// MarshalText renders the state by name in reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown fill state %q", text)
}

package recording

// State names one position in the recording session lifecycle.
type State int

const (
	StateIdle State = iota
	StateRequestingPermission
	StateRecording
	StateStopping
	StateRecorded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingPermission:
		return "requesting-permission"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateRecorded:
		return "recorded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is the single authoritative value describing the current recording.
// The controller owns it exclusively; callers read snapshots.
type Session struct {
	ID           string
	State        State
	Transcript   string
	Attempts     int
	ErrorMessage string
}

// ManualEntryAvailable reports whether the manual-entry fallback is open.
// It is the terminal recovery path out of a failed session.
func (s Session) ManualEntryAvailable() bool {
	return s.State == StateError
}

package model

// BuildStatus represents the lifecycle state of a build.
type BuildStatus string

const (
	BuildStatusPending   BuildStatus = "pending"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusCompleted BuildStatus = "completed"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCancelled BuildStatus = "cancelled" //nolint:misspell // Matches the wire value used by the remote API.
)

// IsTerminal reports whether no further transition or attachment is permitted.
func (s BuildStatus) IsTerminal() bool {
	switch s {
	case BuildStatusCompleted, BuildStatusFailed, BuildStatusCancelled:
		return true
	default:
		return false
	}
}

// rank orders statuses so transitions can be checked for monotonicity.
func (s BuildStatus) rank() int {
	switch s {
	case BuildStatusPending:
		return 0
	case BuildStatusRunning:
		return 1
	case BuildStatusCompleted, BuildStatusFailed, BuildStatusCancelled:
		return 2
	default:
		return -1
	}
}

// Mode selects where screenshots are routed during a run.
type Mode string

const (
	ModeLocal    Mode = "local"    // Build lives only in this process; payloads stored on disk.
	ModeAPI      Mode = "api"      // Build mirrors a remote build; payloads uploaded.
	ModeDisabled Mode = "disabled" // No server, no build; the command still runs.
)

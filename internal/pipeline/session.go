package pipeline

import "time"

// State is the lifecycle state of one pipeline session.
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateDegraded   State = "degraded"
	StateRestarting State = "restarting"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// Terminal reports whether the state ends supervision.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Session is the externally visible snapshot of one pipeline session. The
// supervisor owns the live state and publishes updated copies atomically,
// readers never observe a half-updated value.
type Session struct {
	StreamID      string    `json:"stream_id"`
	State         State     `json:"state"`
	RestartCount  int       `json:"restart_count"`
	LastErrorKind Kind      `json:"last_error_kind,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	OutputURL     string    `json:"output_url,omitempty"`
}

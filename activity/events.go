package activity

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeTabSwitch      = "tab_switch"
	TypeTabFocus       = "tab_focus"
	TypeExitFullscreen = "exit_fullscreen"
	TypeTaskSubmitted  = "task_submitted"
	TypeSessionStarted = "session_started"
	TypeSessionEnded   = "session_ended"
)

// Event is one append-only proctoring telemetry record. Events are never
// mutated after creation.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func New(eventType string, payload map[string]any) Event {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Event{
		ID:        id,
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

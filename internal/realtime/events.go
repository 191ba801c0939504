package realtime

// Event types pushed to project rooms. The payload is whatever the mutating
// controller just wrote; clients treat everything as a refresh hint.
const (
	EventNotification  = "notification"
	EventProjectUpdate = "project-update"
	EventTaskUpdate    = "task-update"
	EventNewComment    = "new-comment"
	EventTimeLogUpdate = "time-log-update"
	EventTeamUpdate    = "team-update"
)

type Event struct {
	Type      string      `json:"type"`
	ProjectID uint        `json:"project_id"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Bus is the publish surface handed to controllers. Delivery is best effort:
// no ordering, no persistence, no acknowledgement.
type Bus interface {
	Publish(Event)
}

// NopBus discards events; used in tests and when the hub is disabled.
type NopBus struct{}

func (NopBus) Publish(Event) {}

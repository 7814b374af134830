package eventbus

import "time"

// Event types published by the notifier.
const (
	// TemplateUpdated carries "template_id" and invalidates rendered caches.
	TemplateUpdated = "template.updated"
	// NotificationCreated carries "notification_id", "channel" and "event_type".
	NotificationCreated = "notification.created"
	// MassSendQueued carries "channel", "queued" and "total".
	MassSendQueued = "mass_send.queued"
)

// Event represents an application event published to the bus.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Listener is a function that handles an event.
type Listener func(Event)

// Only returns a listener that forwards events of the given type to l.
func Only(eventType string, l Listener) Listener {
	return func(e Event) {
		if e.Type == eventType {
			l(e)
		}
	}
}

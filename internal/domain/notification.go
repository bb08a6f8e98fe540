package domain

// NotificationStatus is the outcome of a best-effort side effect.
type NotificationStatus string

const (
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationSkipped NotificationStatus = "skipped"
)

// Notification reports what happened to a downstream event emitted after a
// stock operation completed. A failed notification never undoes the stock
// operation; callers decide whether to log or ignore it.
type Notification struct {
	Event  string             `json:"event"`
	Status NotificationStatus `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// NotificationFrom builds a Notification from the error returned by a publish.
func NotificationFrom(event string, err error) Notification {
	if err != nil {
		return Notification{Event: event, Status: NotificationFailed, Error: err.Error()}
	}
	return Notification{Event: event, Status: NotificationSent}
}

// Failed returns true when the side effect was attempted and failed.
func (n Notification) Failed() bool {
	return n.Status == NotificationFailed
}

// Package notify delivers alerts and dead-man's-switch pings to external
// sinks. The monitor is the only producer; senders are plain HTTP clients
// with short timeouts so a slow sink cannot stall a scheduled check.
package notify

import "context"

// Priority mirrors the Pushover priority scale. Emergency notifications
// repeat until acknowledged.
type Priority int

const (
	PriorityLow       Priority = -1
	PriorityNormal    Priority = 0
	PriorityHigh      Priority = 1
	PriorityEmergency Priority = 2
)

// Notification is one message for a human.
type Notification struct {
	Title    string
	Message  string
	Priority Priority
}

// Notifier sends notifications to a sink.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// Noop discards all notifications.
type Noop struct{}

func (Noop) Notify(context.Context, *Notification) error { return nil }

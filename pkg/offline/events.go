package offline

import (
	"errors"
	"net/http"
)

// State is a controller lifecycle state.
type State string

// Lifecycle states in order. A controller only moves forward.
const (
	// StateParsed is the state of a controller returned by New.
	StateParsed State = "parsed"

	// StateInstalling is held while the precache runs.
	StateInstalling State = "installing"

	// StateInstalled means the static partition is complete and the
	// controller waits for activation.
	StateInstalled State = "installed"

	// StateActivating is held while stale partitions are deleted.
	StateActivating State = "activating"

	// StateActivated accepts fetch, sync, push and notification clicks.
	StateActivated State = "activated"

	// StateRedundant is terminal: the install failed or a newer version
	// took over.
	StateRedundant State = "redundant"
)

// EventType names the events a controller handles.
type EventType string

// Event types of the dispatch table.
const (
	// EventInstall precaches the static partition.
	EventInstall EventType = "install"

	// EventActivate deletes partitions of other versions.
	EventActivate EventType = "activate"

	// EventFetch intercepts a network request.
	EventFetch EventType = "fetch"

	// EventSync runs deferred work registered under a tag.
	EventSync EventType = "sync"

	// EventPush shows a notification for a push message.
	EventPush EventType = "push"

	// EventNotificationClick handles an action on a shown notification.
	EventNotificationClick EventType = "notificationclick"
)

var (
	// ErrInvalidState is returned when an event is dispatched in a state
	// that does not accept it.
	ErrInvalidState = errors.New("offline: event not valid in current state")

	// ErrUnknownEvent is returned for an event type without a handler.
	ErrUnknownEvent = errors.New("offline: unknown event")

	// ErrInstallFailed wraps the cause of a failed install. The controller
	// becomes redundant and never activates.
	ErrInstallFailed = errors.New("offline: install failed")

	// ErrNoResponse is returned when the network produced neither a
	// response nor an error.
	ErrNoResponse = errors.New("offline: no response")

	// ErrInvalidPushPayload is returned for a push message that is not a
	// JSON notification payload.
	ErrInvalidPushPayload = errors.New("offline: invalid push payload")
)

// Event is dispatched to a Controller.
type Event interface {
	Type() EventType
}

// InstallEvent precaches the static assets.
type InstallEvent struct{}

// ActivateEvent garbage-collects partitions of other versions.
type ActivateEvent struct{}

// FetchEvent carries an intercepted request. The handler fills Response and
// sets Handled when it takes responsibility for the request; an unhandled
// event is left to the default network path.
type FetchEvent struct {
	Request  *http.Request
	Response *http.Response
	Handled  bool
}

// SyncEvent signals that connectivity returned for deferred work.
type SyncEvent struct {
	Tag string
}

// PushEvent carries a push message payload.
type PushEvent struct {
	Data []byte
}

// NotificationClickEvent reports a click on a shown notification.
type NotificationClickEvent struct {
	Action       string
	Notification Notification
}

// Type returns EventInstall.
func (*InstallEvent) Type() EventType { return EventInstall }

// Type returns EventActivate.
func (*ActivateEvent) Type() EventType { return EventActivate }

// Type returns EventFetch.
func (*FetchEvent) Type() EventType { return EventFetch }

// Type returns EventSync.
func (*SyncEvent) Type() EventType { return EventSync }

// Type returns EventPush.
func (*PushEvent) Type() EventType { return EventPush }

// Type returns EventNotificationClick.
func (*NotificationClickEvent) Type() EventType { return EventNotificationClick }

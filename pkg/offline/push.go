package offline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Notification actions offered with every push notification.
const (
	ActionOpen    = "open"
	ActionDismiss = "dismiss"
)

// PushPayload is the JSON body of a push message.
type PushPayload struct {
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Data  NotificationData `json:"data"`
}

// NotificationData is the application data attached to a notification.
type NotificationData struct {
	URL string `json:"url,omitempty"`
}

// NotificationAction is a button on a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is shown to the user for a push message.
type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body,omitempty"`
	Data    NotificationData     `json:"data"`
	Actions []NotificationAction `json:"actions"`
}

// Notifier displays notifications.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// WindowOpener opens a window at url, or focuses one already showing it.
type WindowOpener interface {
	OpenOrFocus(ctx context.Context, url string) error
}

// LogNotifier is a Notifier that logs notifications. It is the default when
// no display surface is configured.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Show implements Notifier.
func (n LogNotifier) Show(_ context.Context, notification Notification) error {
	n.Logger.Info().
		Str("title", notification.Title).
		Str("body", notification.Body).
		Str("data_url", notification.Data.URL).
		Msg("Notification shown")
	return nil
}

// LogWindowOpener is a WindowOpener that logs the request.
type LogWindowOpener struct {
	Logger zerolog.Logger
}

// OpenOrFocus implements WindowOpener.
func (w LogWindowOpener) OpenOrFocus(_ context.Context, url string) error {
	w.Logger.Info().Str("url", url).Msg("Window open requested")
	return nil
}

// Push dispatches a PushEvent carrying data.
func (c *Controller) Push(ctx context.Context, data []byte) error {
	return c.Dispatch(ctx, &PushEvent{Data: data})
}

// NotificationClick dispatches a NotificationClickEvent.
func (c *Controller) NotificationClick(ctx context.Context, action string, n Notification) error {
	return c.Dispatch(ctx, &NotificationClickEvent{Action: action, Notification: n})
}

func (c *Controller) handlePush(ctx context.Context, event Event) error {
	ev := event.(*PushEvent)

	var payload PushPayload
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			pushTotal.WithLabelValues("invalid").Inc()
			return fmt.Errorf("%w: %w", ErrInvalidPushPayload, err)
		}
	}
	if payload.Title == "" {
		payload.Title = c.cfg.DefaultNotificationTitle
	}

	n := Notification{
		Title: payload.Title,
		Body:  payload.Body,
		Data:  payload.Data,
		Actions: []NotificationAction{
			{Action: ActionOpen, Title: "Open"},
			{Action: ActionDismiss, Title: "Dismiss"},
		},
	}
	if err := c.cfg.Notifier.Show(ctx, n); err != nil {
		pushTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("show notification: %w", err)
	}

	pushTotal.WithLabelValues("success").Inc()
	return nil
}

func (c *Controller) handleNotificationClick(ctx context.Context, event Event) error {
	ev := event.(*NotificationClickEvent)
	if ev.Action != ActionOpen {
		c.logger.Debug().Str("action", ev.Action).Msg("Notification dismissed")
		return nil
	}

	target := ev.Notification.Data.URL
	if target == "" {
		target = "/"
	}
	abs, err := c.resolve(target)
	if err != nil {
		return err
	}
	if err := c.cfg.Windows.OpenOrFocus(ctx, abs); err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	return nil
}

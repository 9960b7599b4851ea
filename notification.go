package termcore

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// Notification is a user-visible message produced by OSC 9, OSC 777, or a
// trigger's Notify action.
type Notification struct {
	Title     string
	Body      string
	Timestamp time.Time
}

// NotificationPayload carries the metadata of a kitty desktop notification
// (OSC 99). Fields map to the protocol's key=value metadata part.
type NotificationPayload struct {
	ID          string   // i= notification identifier
	Done        bool     // d= payload is complete
	PayloadType string   // p= "title", "body", "close", "alive", "icon", "?" (query)
	Encoding    string   // e= payload encoding ("1" = base64)
	Actions     []string // a= requested actions (focus, report)
	TrackClose  bool     // c= report when the notification is closed
	Timeout     int      // w= timeout in milliseconds
	AppName     string   // f= application name
	Type        string   // t= notification type
	IconName    string   // n= symbolic icon name
	IconCacheID string   // g= icon cache identifier
	Sound       string   // s= sound name
	Urgency     int      // u= 0 low, 1 normal, 2 critical
	Occasion    string   // o= when to honor (always, unfocused, invisible)
	Data        []byte   // payload bytes after the metadata part
}

// NotificationProvider receives desktop notifications. The return value, if
// non-empty, is written back to the application as the query response.
type NotificationProvider interface {
	Notify(payload *NotificationPayload) string
}

// NoopNotification ignores all notifications.
type NoopNotification struct{}

func (NoopNotification) Notify(payload *NotificationPayload) string { return "" }

var _ NotificationProvider = (*NoopNotification)(nil)

// SetNotificationProvider sets the notification provider at runtime.
func (t *Terminal) SetNotificationProvider(p NotificationProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notificationProvider = p
}

// NotificationProvider returns the current notification provider.
func (t *Terminal) NotificationProvider() NotificationProvider {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.notificationProvider
}

// SuppressNotifications enables or disables the security gate that drops all
// notifications before they reach the provider or the event bus.
func (t *Terminal) SuppressNotifications(suppress bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notificationsSuppressed = suppress
}

// NotificationsSuppressed reports whether the notification gate is active.
func (t *Terminal) NotificationsSuppressed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.notificationsSuppressed
}

// DesktopNotification processes a desktop notification (OSC 99) and delegates
// to the configured provider. A non-empty provider response is written back
// via the response provider (used for p=? capability queries).
func (t *Terminal) DesktopNotification(payload *NotificationPayload) {
	if t.middleware != nil && t.middleware.DesktopNotification != nil {
		t.middleware.DesktopNotification(payload, t.desktopNotificationInternal)
		return
	}
	t.desktopNotificationInternal(payload)
}

func (t *Terminal) desktopNotificationInternal(payload *NotificationPayload) {
	t.mu.RLock()
	provider := t.notificationProvider
	suppressed := t.notificationsSuppressed
	t.mu.RUnlock()

	if suppressed || provider == nil {
		return
	}

	if response := provider.Notify(payload); response != "" {
		t.writeResponseString(response)
	}
}

// parseNotificationPayload parses the body of an OSC 99 sequence:
// "k=v:k=v;payload". The metadata part ends at the first ';'.
func parseNotificationPayload(body string) *NotificationPayload {
	payload := &NotificationPayload{
		Done:        true,
		PayloadType: "title",
		Urgency:     1,
	}

	meta := body
	if idx := strings.IndexByte(body, ';'); idx >= 0 {
		meta = body[:idx]
		payload.Data = []byte(body[idx+1:])
	}

	for _, pair := range strings.Split(meta, ":") {
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			continue
		}
		key, value := pair[:eq], pair[eq+1:]
		switch key {
		case "i":
			payload.ID = value
		case "d":
			payload.Done = value != "0"
		case "p":
			payload.PayloadType = value
		case "e":
			payload.Encoding = value
		case "a":
			payload.Actions = strings.Split(value, ",")
		case "c":
			payload.TrackClose = value == "1"
		case "w":
			payload.Timeout, _ = strconv.Atoi(value)
		case "f":
			payload.AppName = value
		case "t":
			payload.Type = value
		case "n":
			payload.IconName = value
		case "g":
			payload.IconCacheID = value
		case "s":
			payload.Sound = value
		case "u":
			payload.Urgency, _ = strconv.Atoi(value)
		case "o":
			payload.Occasion = value
		}
	}

	if payload.Encoding == "1" && len(payload.Data) > 0 {
		if decoded, err := base64.StdEncoding.DecodeString(string(payload.Data)); err == nil {
			payload.Data = decoded
		}
	}

	return payload
}

// notify enqueues a plain-text notification (OSC 9 / OSC 777) as an event and
// forwards it to the provider as a single "title" payload whose AppName is the
// title and whose data is the body (or the title when the body is empty).
func (t *Terminal) notify(title, body string) {
	t.mu.RLock()
	suppressed := t.notificationsSuppressed
	provider := t.notificationProvider
	t.mu.RUnlock()

	if suppressed {
		return
	}

	n := &Notification{Title: title, Body: body, Timestamp: time.Now()}
	t.emitEvent(Event{Kind: EventKindNotification, Notification: n})

	if provider != nil {
		text := body
		if text == "" {
			text = title
		}
		provider.Notify(&NotificationPayload{
			Done:        true,
			PayloadType: "title",
			AppName:     title,
			Urgency:     1,
			Data:        []byte(text),
		})
	}
}

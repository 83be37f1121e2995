package offlinecache

import (
	"context"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/tidwall/gjson"
)

const (
	DefaultAppName          = "Slay The Day"
	DefaultNotificationBody = "Time for a moment..."
	NotificationIcon        = "/icon-192.png"
	NotificationTag         = "reminder"
	DefaultClickTarget      = "/app"
	// Background sync tag for uploading local entries.
	SyncTagEntries = "sync-entries"
)

// Notification is a notification as shown by the host.
type Notification struct {
	Title              string           `json:"title"`
	Body               string           `json:"body"`
	Icon               string           `json:"icon"`
	Badge              string           `json:"badge"`
	Tag                string           `json:"tag"`
	RequireInteraction bool             `json:"requireInteraction"`
	Silent             bool             `json:"silent"`
	Data               NotificationData `json:"data"`
}

// NotificationData is opaque to the host and given back on click.
type NotificationData struct {
	URL string `json:"url,omitempty"`
}

// BuildNotification turns a push payload into the reminder notification.
// Only the body field of the payload is used; a missing or falsy body gets the default text.
func BuildNotification(title string, payload []byte) (Notification, error) {
	if !gjson.ValidBytes(payload) {
		return Notification{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("push payload is not valid JSON")
	}
	body := DefaultNotificationBody
	if v := gjson.GetBytes(payload, "body"); truthy(v) {
		body = v.String()
	}
	return Notification{
		Title:              title,
		Body:               body,
		Icon:               NotificationIcon,
		Badge:              NotificationIcon,
		Tag:                NotificationTag,
		RequireInteraction: false,
		Silent:             true,
		Data:               NotificationData{URL: DefaultClickTarget},
	}, nil
}

// truthy follows JavaScript truthiness, so that e.g. an empty string or 0 body is replaced.
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return v.Str != ""
	case gjson.Number:
		return v.Num != 0
	default:
		return v.Exists()
	}
}

func (w *Worker) onPush(ctx context.Context, ev PushEvent) error {
	if len(ev.Data) == 0 {
		return nil
	}
	n, err := BuildNotification(w.appName, ev.Data)
	if err != nil {
		w.log.Warn().Err(err).Int("bytes", len(ev.Data)).Msg("Dropping push message")
		return err
	}
	w.log.Debug().Str("tag", n.Tag).Str("body", n.Body).Msg("Showing notification")
	return w.runtime.ShowNotification(ctx, n)
}

func (w *Worker) onNotificationClick(ctx context.Context, ev NotificationClickEvent) error {
	if err := w.runtime.CloseNotification(ctx, ev.Notification.Tag); err != nil {
		return err
	}
	if ev.Notification.Data.URL == "" {
		return nil
	}
	w.log.Debug().Str("url", ev.Notification.Data.URL).Msg("Opening window")
	return w.runtime.OpenWindow(ctx, ev.Notification.Data.URL)
}

func (w *Worker) onSync(ctx context.Context, ev SyncEvent) error {
	if ev.Tag == SyncTagEntries {
		w.log.Info().Str("tag", ev.Tag).Msg("Background sync triggered")
	}
	return nil
}

package offlinecache

import (
	"context"
	"net/http"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// EventType names a lifecycle event delivered to a worker by its host.
type EventType string

const (
	EventInstall           EventType = "install"
	EventActivate          EventType = "activate"
	EventFetch             EventType = "fetch"
	EventMessage           EventType = "message"
	EventPush              EventType = "push"
	EventNotificationClick EventType = "notificationclick"
	EventSync              EventType = "sync"
)

type InstallEvent struct {
	Version string
}

type ActivateEvent struct {
	Version string
}

type FetchEvent struct {
	Request *http.Request
	Mode    RequestMode
}

type MessageEvent struct {
	Data []byte
}

type PushEvent struct {
	Data []byte
}

type NotificationClickEvent struct {
	Notification Notification
}

type SyncEvent struct {
	Tag string
}

type (
	InstallHandler           func(ctx context.Context, ev InstallEvent) error
	ActivateHandler          func(ctx context.Context, ev ActivateEvent) error
	FetchHandler             func(ctx context.Context, ev FetchEvent) Outcome
	MessageHandler           func(ctx context.Context, ev MessageEvent) error
	PushHandler              func(ctx context.Context, ev PushEvent) error
	NotificationClickHandler func(ctx context.Context, ev NotificationClickEvent) error
	SyncHandler              func(ctx context.Context, ev SyncEvent) error
)

// Events holds the handlers of a worker, at most one per event type.
// Events without a handler are ignored when dispatched,
// except fetch, whose absence the caller has to handle.
type Events struct {
	mu       sync.RWMutex
	handlers map[EventType]any
}

func newEvents() *Events {
	return &Events{handlers: make(map[EventType]any)}
}

func (e *Events) register(t EventType, h any, isNil bool) error {
	if isNil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("nil handler for " + string(t) + " event")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.handlers[t]; ok {
		return errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg("handler for " + string(t) + " event already registered")
	}
	e.handlers[t] = h
	return nil
}

func (e *Events) handler(t EventType) any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handlers[t]
}

// Registered reports whether a handler exists for the event type.
func (e *Events) Registered(t EventType) bool {
	return e.handler(t) != nil
}

func (e *Events) OnInstall(h InstallHandler) error {
	return e.register(EventInstall, h, h == nil)
}

func (e *Events) OnActivate(h ActivateHandler) error {
	return e.register(EventActivate, h, h == nil)
}

func (e *Events) OnFetch(h FetchHandler) error {
	return e.register(EventFetch, h, h == nil)
}

func (e *Events) OnMessage(h MessageHandler) error {
	return e.register(EventMessage, h, h == nil)
}

func (e *Events) OnPush(h PushHandler) error {
	return e.register(EventPush, h, h == nil)
}

func (e *Events) OnNotificationClick(h NotificationClickHandler) error {
	return e.register(EventNotificationClick, h, h == nil)
}

func (e *Events) OnSync(h SyncHandler) error {
	return e.register(EventSync, h, h == nil)
}

func (e *Events) DispatchInstall(ctx context.Context, ev InstallEvent) error {
	if h, ok := e.handler(EventInstall).(InstallHandler); ok {
		return h(ctx, ev)
	}
	return nil
}

func (e *Events) DispatchActivate(ctx context.Context, ev ActivateEvent) error {
	if h, ok := e.handler(EventActivate).(ActivateHandler); ok {
		return h(ctx, ev)
	}
	return nil
}

// DispatchFetch returns the outcome of the fetch handler.
// The boolean is false if no fetch handler is registered.
func (e *Events) DispatchFetch(ctx context.Context, ev FetchEvent) (Outcome, bool) {
	if h, ok := e.handler(EventFetch).(FetchHandler); ok {
		return h(ctx, ev), true
	}
	return Outcome{}, false
}

func (e *Events) DispatchMessage(ctx context.Context, ev MessageEvent) error {
	if h, ok := e.handler(EventMessage).(MessageHandler); ok {
		return h(ctx, ev)
	}
	return nil
}

func (e *Events) DispatchPush(ctx context.Context, ev PushEvent) error {
	if h, ok := e.handler(EventPush).(PushHandler); ok {
		return h(ctx, ev)
	}
	return nil
}

func (e *Events) DispatchNotificationClick(ctx context.Context, ev NotificationClickEvent) error {
	if h, ok := e.handler(EventNotificationClick).(NotificationClickHandler); ok {
		return h(ctx, ev)
	}
	return nil
}

func (e *Events) DispatchSync(ctx context.Context, ev SyncEvent) error {
	if h, ok := e.handler(EventSync).(SyncHandler); ok {
		return h(ctx, ev)
	}
	return nil
}

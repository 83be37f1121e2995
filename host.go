package offlinecache

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const DefaultControlPrefix = "/_offline"

type HostConfig struct {
	// Path prefix of the control API. Requests below it never reach a worker.
	ControlPrefix string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Host runs worker generations: it installs and activates them,
// routes requests to the controlling one and keeps track of
// the notifications and windows they ask for.
type Host struct {
	prefix string
	log    zerolog.Logger
	router chi.Router

	// serializes install and activate
	mu      sync.Mutex
	waiting *registration

	active     atomic.Pointer[registration]
	controller atomic.Pointer[registration]

	notifications notificationCenter
	clients       clientList
}

func NewHost(config HostConfig) *Host {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	prefix := strings.TrimSuffix(config.ControlPrefix, "/")
	if prefix == "" {
		prefix = DefaultControlPrefix
	}

	h := &Host{
		prefix: prefix,
		log:    logger.With().Str("component", "host").Logger(),
	}
	h.router = h.controlRouter()
	return h
}

// registration is a worker as seen by the host, and the runtime handed to that worker.
type registration struct {
	host        *Host
	worker      *Worker
	skipWaiting atomic.Bool
	claimed     atomic.Bool
}

func (r *registration) SkipWaiting() {
	r.skipWaiting.Store(true)
}

func (r *registration) Claim() {
	r.claimed.Store(true)
}

func (r *registration) ShowNotification(ctx context.Context, n Notification) error {
	r.host.notifications.show(n)
	return nil
}

func (r *registration) CloseNotification(ctx context.Context, tag string) error {
	r.host.notifications.close(tag)
	return nil
}

func (r *registration) OpenWindow(ctx context.Context, url string) error {
	r.host.clients.open(url)
	r.host.log.Info().Str("url", url).Msg("Opened client window")
	return nil
}

// Install runs the install event of the worker.
// On success the worker is waiting, and is activated right away if it asked to skip waiting
// or if there is no active worker yet. On failure the current worker stays active.
func (h *Host) Install(ctx context.Context, w *Worker) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	reg := &registration{host: h, worker: w}
	w.bind(reg)

	h.log.Info().Str("version", w.Version()).Msg("Installing worker")
	if err := w.events.DispatchInstall(ctx, InstallEvent{Version: w.Version()}); err != nil {
		h.log.Warn().Err(err).Str("version", w.Version()).Msg("Install failed, keeping current worker")
		return err
	}
	h.waiting = reg

	if reg.skipWaiting.Load() || h.active.Load() == nil {
		h.activateWaiting(ctx)
	}
	return nil
}

// Resume makes a worker whose generation is already in the store active and controlling,
// without running its install and activate events. This is what happens to an installed
// worker when the host restarts.
func (h *Host) Resume(ctx context.Context, w *Worker) error {
	versions, err := w.Versions(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(versions, w.Version()) {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("store " + w.Version() + " is not installed")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	reg := &registration{host: h, worker: w}
	w.bind(reg)
	h.active.Store(reg)
	h.controller.Store(reg)
	h.log.Info().Str("version", w.Version()).Msg("Resumed installed worker")
	return nil
}

// ActivateWaiting activates the installed worker that is waiting, if any.
func (h *Host) ActivateWaiting(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.waiting == nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("no worker is waiting")
	}
	h.activateWaiting(ctx)
	return nil
}

// activateWaiting must be called with the mutex held.
func (h *Host) activateWaiting(ctx context.Context) {
	reg := h.waiting
	h.waiting = nil

	version := reg.worker.Version()
	if err := reg.worker.events.DispatchActivate(ctx, ActivateEvent{Version: version}); err != nil {
		// the worker is activated regardless, it just keeps whatever stale stores are left
		h.log.Error().Err(err).Str("version", version).Msg("Activate handler failed")
	}
	h.active.Store(reg)
	if reg.claimed.Load() || h.controller.Load() == nil {
		h.controller.Store(reg)
	}
	h.log.Info().Str("version", version).Bool("claimed", reg.claimed.Load()).Msg("Worker activated")
}

func (h *Host) versionOf(reg *registration) string {
	if reg == nil {
		return ""
	}
	return reg.worker.Version()
}

// Active returns the active worker, or nil.
func (h *Host) Active() *Worker {
	if reg := h.active.Load(); reg != nil {
		return reg.worker
	}
	return nil
}

// Controller returns the worker that currently handles requests, or nil.
func (h *Host) Controller() *Worker {
	if reg := h.controller.Load(); reg != nil {
		return reg.worker
	}
	return nil
}

func (h *Host) activeEvents() (*Events, error) {
	reg := h.active.Load()
	if reg == nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("no active worker")
	}
	return reg.worker.events, nil
}

// Push delivers a push message to the active worker.
func (h *Host) Push(ctx context.Context, data []byte) error {
	events, err := h.activeEvents()
	if err != nil {
		return err
	}
	return events.DispatchPush(ctx, PushEvent{Data: data})
}

// Message delivers a generic message to the active worker.
func (h *Host) Message(ctx context.Context, data []byte) error {
	events, err := h.activeEvents()
	if err != nil {
		return err
	}
	return events.DispatchMessage(ctx, MessageEvent{Data: data})
}

// Sync fires a background sync event on the active worker.
func (h *Host) Sync(ctx context.Context, tag string) error {
	events, err := h.activeEvents()
	if err != nil {
		return err
	}
	return events.DispatchSync(ctx, SyncEvent{Tag: tag})
}

// ClickNotification delivers a click on the shown notification with the given tag.
func (h *Host) ClickNotification(ctx context.Context, tag string) error {
	n, ok := h.notifications.get(tag)
	if !ok {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("no notification with tag " + tag)
	}
	events, err := h.activeEvents()
	if err != nil {
		return err
	}
	return events.DispatchNotificationClick(ctx, NotificationClickEvent{Notification: n})
}

// Notifications returns the notifications currently shown.
func (h *Host) Notifications() []Notification {
	return h.notifications.list()
}

// OpenedWindows returns the URLs of windows opened by workers, oldest first.
func (h *Host) OpenedWindows() []string {
	return h.clients.list()
}

// ServeHTTP implements the http.Handler interface.
// Control API requests are handled by the host; everything else goes to the controlling worker.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == h.prefix || strings.HasPrefix(r.URL.Path, h.prefix+"/") {
		h.router.ServeHTTP(w, r)
		return
	}

	// a navigation hands control over to the active worker
	if RequestModeOf(r) == ModeNavigate {
		if active := h.active.Load(); active != nil {
			if prev := h.controller.Swap(active); prev != active {
				h.log.Info().
					Str("from", h.versionOf(prev)).
					Str("to", active.worker.Version()).
					Msg("Navigation handed over control")
			}
		}
	}

	reg := h.controller.Load()
	if reg == nil {
		http.Error(w, "no active worker", http.StatusServiceUnavailable)
		return
	}
	reg.worker.ServeHTTP(w, r)
}

type hostStatus struct {
	Active     string   `json:"active,omitempty"`
	Controller string   `json:"controller,omitempty"`
	Waiting    string   `json:"waiting,omitempty"`
	Versions   []string `json:"versions"`
	Keys       []string `json:"keys"`
}

func (h *Host) status(ctx context.Context) (hostStatus, error) {
	h.mu.Lock()
	waiting := h.versionOf(h.waiting)
	h.mu.Unlock()

	s := hostStatus{
		Active:     h.versionOf(h.active.Load()),
		Controller: h.versionOf(h.controller.Load()),
		Waiting:    waiting,
		Versions:   []string{},
		Keys:       []string{},
	}
	if w := h.Active(); w != nil {
		versions, err := w.Versions(ctx)
		if err != nil {
			return s, err
		}
		keys, err := w.Keys(ctx)
		if err != nil {
			return s, err
		}
		s.Versions = append(s.Versions, versions...)
		s.Keys = append(s.Keys, keys...)
	}
	return s, nil
}

func (h *Host) controlRouter() chi.Router {
	r := chi.NewRouter()
	r.Route(h.prefix, func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			s, err := h.status(r.Context())
			if err != nil {
				h.writeError(w, err)
				return
			}
			h.writeJSON(w, http.StatusOK, s)
		})
		r.Post("/push", func(w http.ResponseWriter, r *http.Request) {
			h.deliver(w, r, h.Push)
		})
		r.Post("/message", func(w http.ResponseWriter, r *http.Request) {
			h.deliver(w, r, h.Message)
		})
		r.Post("/sync/{tag}", func(w http.ResponseWriter, r *http.Request) {
			h.respond(w, h.Sync(r.Context(), chi.URLParam(r, "tag")))
		})
		r.Get("/notifications", func(w http.ResponseWriter, r *http.Request) {
			h.writeJSON(w, http.StatusOK, h.Notifications())
		})
		r.Post("/notifications/{tag}/click", func(w http.ResponseWriter, r *http.Request) {
			h.respond(w, h.ClickNotification(r.Context(), chi.URLParam(r, "tag")))
		})
		r.Get("/clients", func(w http.ResponseWriter, r *http.Request) {
			h.writeJSON(w, http.StatusOK, h.OpenedWindows())
		})
		r.Post("/activate", func(w http.ResponseWriter, r *http.Request) {
			h.respond(w, h.ActivateWaiting(r.Context()))
		})
	})
	return r
}

// deliver reads the request body and passes it to the event function.
func (h *Host) deliver(w http.ResponseWriter, r *http.Request, fn func(context.Context, []byte) error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("could not read request body").
			WithCause(err))
		return
	}
	h.respond(w, fn(r.Context(), data))
}

func (h *Host) respond(w http.ResponseWriter, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Host) writeError(w http.ResponseWriter, err error) {
	status := httpStatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Control request failed")
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Host) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Could not write control response")
	}
}

func httpStatusFor(err error) int {
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument:
		return http.StatusBadRequest
	case errbuilder.CodeNotFound:
		return http.StatusNotFound
	case errbuilder.CodeAlreadyExists:
		return http.StatusConflict
	case errbuilder.CodeFailedPrecondition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// notificationCenter holds the shown notifications, at most one per tag.
type notificationCenter struct {
	mu    sync.Mutex
	shown []Notification
}

func (c *notificationCenter) show(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.shown {
		if n.Tag != "" && c.shown[i].Tag == n.Tag {
			c.shown[i] = n
			return
		}
	}
	c.shown = append(c.shown, n)
}

func (c *notificationCenter) close(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.shown {
		if c.shown[i].Tag == tag {
			c.shown = append(c.shown[:i], c.shown[i+1:]...)
			return
		}
	}
}

func (c *notificationCenter) get(tag string) (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.shown {
		if n.Tag == tag {
			return n, true
		}
	}
	return Notification{}, false
}

func (c *notificationCenter) list() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification{}, c.shown...)
}

type clientList struct {
	mu      sync.Mutex
	windows []string
}

func (c *clientList) open(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows = append(c.windows, url)
}

func (c *clientList) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.windows...)
}

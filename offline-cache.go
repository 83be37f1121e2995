package offlinecache

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/always-cache/offline-cache/cache"
	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
)

type Config struct {
	// Version tag of the store generation this worker owns.
	Version string
	// Absolute paths that are fetched and stored on install.
	Manifest []string
	// Storage for store generations.
	Store cache.Provider
	// Network used for population and for requests the store cannot answer.
	Network Network
	// Application name, used as the notification title.
	AppName string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Runtime is what a worker can ask of the host it runs in.
type Runtime interface {
	// SkipWaiting asks for activation right after a successful install.
	SkipWaiting()
	// Claim asks for control of all requests as soon as activation completes.
	Claim()
	ShowNotification(ctx context.Context, n Notification) error
	CloseNotification(ctx context.Context, tag string) error
	OpenWindow(ctx context.Context, url string) error
}

// Worker is one generation of the offline cache.
// It owns the store generation named by its version.
type Worker struct {
	version  string
	manifest []string
	store    cache.Provider
	network  Network
	appName  string
	log      zerolog.Logger
	events   *Events
	runtime  Runtime
}

// NewWorker creates a worker generation and registers its handlers.
func NewWorker(config Config) (*Worker, error) {
	if strings.TrimSpace(config.Version) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("store version is required")
	}
	if config.Store == nil || config.Network == nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("store and network are required")
	}
	for _, path := range config.Manifest {
		if !strings.HasPrefix(path, "/") {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("manifest path must be absolute: " + path)
		}
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	appName := config.AppName
	if appName == "" {
		appName = DefaultAppName
	}

	w := &Worker{
		version:  config.Version,
		manifest: append([]string(nil), config.Manifest...),
		store:    config.Store,
		network:  config.Network,
		appName:  appName,
		log:      logger.With().Str("version", config.Version).Logger(),
		events:   newEvents(),
		runtime:  noopRuntime{},
	}

	for _, err := range []error{
		w.events.OnInstall(w.onInstall),
		w.events.OnActivate(w.onActivate),
		w.events.OnFetch(w.onFetch),
		w.events.OnPush(w.onPush),
		w.events.OnNotificationClick(w.onNotificationClick),
		w.events.OnSync(w.onSync),
	} {
		if err != nil {
			return nil, err
		}
	}

	return w, nil
}

func (w *Worker) Version() string {
	return w.version
}

func (w *Worker) Manifest() []string {
	return append([]string(nil), w.manifest...)
}

// Events gives access to the handler registry, e.g. to register a message handler.
func (w *Worker) Events() *Events {
	return w.events
}

// Versions lists the store generations currently present.
func (w *Worker) Versions(ctx context.Context) ([]string, error) {
	return w.store.Versions(ctx)
}

// Keys lists the request identities stored in this worker's generation.
func (w *Worker) Keys(ctx context.Context) ([]string, error) {
	return w.store.Keys(ctx, w.version)
}

func (w *Worker) bind(rt Runtime) {
	w.runtime = rt
}

// ServeHTTP implements the http.Handler interface.
// It renders the outcome of the fetch event for the request.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ev := FetchEvent{Request: r, Mode: RequestModeOf(r)}
	outcome, handled := w.events.DispatchFetch(r.Context(), ev)
	if !handled {
		outcome = w.passthrough(r.Context(), ev)
	}

	cs := cachestatus.CacheStatus{}
	switch outcome.Kind {
	case CacheHit:
		cs.Hit()
	case OfflineFallback:
		cs.Hit()
		cs.Detail(cachestatus.DetailOfflineFallback)
	case NetworkResult:
		cs.Forward(cachestatus.FwdUriMiss)
	default:
		cs.Forward(cachestatus.FwdUriMiss)
		cs.Detail(cachestatus.DetailUnresolved)
		rw.Header().Set("Cache-Status", cs.String())
		http.Error(rw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		w.logRequest(r, cs)
		return
	}
	w.sendResponse(rw, r, outcome.Response, cs)
}

func (w *Worker) sendResponse(rw http.ResponseWriter, r *http.Request, res *http.Response, cs cachestatus.CacheStatus) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(rw.Header(), res.Header)
	rw.Header().Add("Cache-Status", cs.String())
	rw.WriteHeader(res.StatusCode)
	if res.Body != nil {
		bytesWritten, err := io.Copy(rw, res.Body)
		if err != nil {
			w.log.Error().Err(err).Msg("Could not write response body to client")
		}
		w.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
	}
	w.logRequest(r, cs)
}

func (w *Worker) logRequest(r *http.Request, cs cachestatus.CacheStatus) {
	isHit := 0
	if cs.Status() == cachestatus.StatusHit {
		isHit = 1
	}
	w.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("status", string(cs.Status())).
		Str("fwd", string(cs.FwdReason())).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	ip := ipAndPort[:portSepIdx]
	return ip
}

// hop-by-hop headers, these are not forwarded to the client
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if _, hop := hopHeaders[http.CanonicalHeaderKey(k)]; hop {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

type noopRuntime struct{}

func (noopRuntime) SkipWaiting() {}

func (noopRuntime) Claim() {}

func (noopRuntime) ShowNotification(ctx context.Context, n Notification) error { return nil }

func (noopRuntime) CloseNotification(ctx context.Context, tag string) error { return nil }

func (noopRuntime) OpenWindow(ctx context.Context, url string) error { return nil }

package offlinecache

import (
	"context"
	"net/http"
	"strings"

	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// OutcomeKind is how a fetch event was answered.
type OutcomeKind int

const (
	// Neither the store nor the network could answer.
	Unresolved OutcomeKind = iota
	// Answered from the store, no network request was made.
	CacheHit
	// Answered by the network after a store miss.
	NetworkResult
	// A navigation answered with the stored root document after a store miss and a network failure.
	OfflineFallback
)

func (k OutcomeKind) String() string {
	switch k {
	case CacheHit:
		return "cache-hit"
	case NetworkResult:
		return "network"
	case OfflineFallback:
		return "offline-fallback"
	default:
		return "unresolved"
	}
}

// Outcome is the answer to a fetch event.
type Outcome struct {
	Kind OutcomeKind
	// Response is nil for Unresolved.
	Response *http.Response
	// Err is the network error for OfflineFallback and Unresolved.
	Err error
}

// RequestMode is the purpose of a request, as far as interception is concerned.
type RequestMode string

const (
	ModeNavigate   RequestMode = "navigate"
	ModeSameOrigin RequestMode = "same-origin"
	ModeNoCORS     RequestMode = "no-cors"
	ModeCORS       RequestMode = "cors"
)

// RequestModeOf returns the mode of an HTTP request.
// The Sec-Fetch-Mode header is used when present; otherwise a GET
// that accepts text/html is taken to be a navigation.
func RequestModeOf(r *http.Request) RequestMode {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return RequestMode(strings.ToLower(mode))
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return ModeNavigate
	}
	return ModeNoCORS
}

func (w *Worker) onFetch(ctx context.Context, ev FetchEvent) Outcome {
	return w.Intercept(ctx, ev)
}

// Intercept answers a request from the store first and from the network second.
// There is no freshness check: a stored response always wins.
// Network responses are never written to the store.
func (w *Worker) Intercept(ctx context.Context, ev FetchEvent) Outcome {
	if res, ok := w.match(ctx, cachekey.GetKey(ev.Request), ev.Request); ok {
		w.log.Trace().Str("url", ev.Request.URL.RequestURI()).Msg("Cache hit and serving")
		return Outcome{Kind: CacheHit, Response: res}
	}

	res, err := w.network.Fetch(ctx, ev.Request)
	if err == nil {
		return Outcome{Kind: NetworkResult, Response: res}
	}
	w.log.Debug().Err(err).Str("url", ev.Request.URL.RequestURI()).Msg("Network failed")

	if ev.Mode == ModeNavigate {
		rootReq, rootErr := cachekey.GetRequestFromKey(cachekey.RootKey)
		if rootErr != nil {
			w.log.Error().Err(rootErr).Msg("Could not build fallback request")
			return Outcome{Kind: Unresolved, Err: err}
		}
		if res, ok := w.match(ctx, cachekey.RootKey, rootReq.WithContext(ctx)); ok {
			w.log.Debug().Str("url", ev.Request.URL.RequestURI()).Msg("Serving offline fallback")
			return Outcome{Kind: OfflineFallback, Response: res, Err: err}
		}
	}
	return Outcome{Kind: Unresolved, Err: err}
}

// passthrough is used when no fetch handler is registered: the network answers everything.
func (w *Worker) passthrough(ctx context.Context, ev FetchEvent) Outcome {
	res, err := w.network.Fetch(ctx, ev.Request)
	if err != nil {
		return Outcome{Kind: Unresolved, Err: err}
	}
	return Outcome{Kind: NetworkResult, Response: res}
}

// match looks up the key in the current generation.
// A store error or a corrupted entry counts as a miss.
func (w *Worker) match(ctx context.Context, key string, req *http.Request) (*http.Response, bool) {
	b, ok, err := w.store.Get(ctx, w.version, key)
	if err != nil {
		w.log.Error().Err(err).Str("key", key).Msg("Could not read from store")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	snap, err := serializer.BytesToSnapshot(b, req)
	if err != nil {
		w.log.Error().Err(err).Str("key", key).Msg("Could not read stored response")
		return nil, false
	}
	return snap.Response, true
}

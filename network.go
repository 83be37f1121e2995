package offlinecache

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"

	"github.com/rs/zerolog"
)

// Network fetches resources from wherever they really live.
// An error means the resource could not be fetched at all;
// any HTTP response, whatever its status, is a successful fetch.
type Network interface {
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
}

// NetworkFunc adapts a function to the Network interface.
type NetworkFunc func(ctx context.Context, r *http.Request) (*http.Response, error)

func (f NetworkFunc) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return f(ctx, r)
}

// OriginNetwork fetches resources from an origin server through a reverse proxy.
type OriginNetwork struct {
	originURL    url.URL
	log          zerolog.Logger
	reverseproxy httputil.ReverseProxy
}

// NewOriginNetwork creates a network for the given origin.
// originHost is the hostname to use for HTTP requests and TLS negotiation,
// needed if e.g. the origin URL is just an IP address. Leave empty to use the origin URL host.
func NewOriginNetwork(originURL url.URL, originHost string, logger zerolog.Logger) *OriginNetwork {
	o := &OriginNetwork{
		originURL: originURL,
		log:       logger.With().Str("origin", originURL.String()).Logger(),
	}

	host := originURL.Host
	hostHeader := host
	transport := http.DefaultTransport
	if originHost != "" {
		hostHeader = originHost
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}

	o.reverseproxy = httputil.ReverseProxy{
		Director:  createDirector(originURL.Scheme, host, hostHeader),
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if rs, ok := w.(*tee.ResponseSaver); ok {
				rs.Fail(err)
				return
			}
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return o
}

// Fetch sends the request to the origin and returns the buffered response.
func (o *OriginNetwork) Fetch(ctx context.Context, r *http.Request) (res *http.Response, err error) {
	defer func() {
		// the reverse proxy aborts if the body cannot be copied,
		// which for us is just a failed fetch
		if rec := recover(); rec != nil {
			if rec != http.ErrAbortHandler {
				panic(rec)
			}
			res, err = nil, fmt.Errorf("fetch %s aborted while reading body", r.URL.RequestURI())
		}
	}()

	o.log.Trace().Str("method", r.Method).Str("url", r.URL.RequestURI()).Msg("Requesting content from origin")

	rw := tee.NewResponseSaver(nil)
	o.reverseproxy.ServeHTTP(rw, r.WithContext(ctx))
	if err := rw.Err(); err != nil {
		return nil, err
	}
	return serializer.BytesToResponse(rw.Response(), r)
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}

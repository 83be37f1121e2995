package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/always-cache/offline-cache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testManifest = []string{"/", "/app", "/deck", "/icon-192.png"}

// siteNetwork serves a fixed site from memory and counts requests per path.
// It can be switched offline.
type siteNetwork struct {
	handler http.Handler

	mu      sync.Mutex
	calls   map[string]int
	offline bool
}

func newSiteNetwork(label string) *siteNetwork {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html>root %s</html>", label)
	})
	r.Get("/app", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html>app %s</html>", label)
	})
	r.Get("/deck", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html>deck %s</html>", label)
	})
	r.Get("/icon-192.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G', 0x00, 0x0d, 0x0a, 0xff})
	})
	r.Get("/live", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "live %s", label)
	})
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	r.Get("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/app", http.StatusMovedPermanently)
	})
	r.Get("/launch", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "start", http.StatusFound)
	})
	r.Get("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusTemporaryRedirect)
	})
	r.Get("/dangling", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	})
	return &siteNetwork{handler: r, calls: map[string]int{}}
}

func (n *siteNetwork) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	n.mu.Lock()
	n.calls[r.URL.Path]++
	offline := n.offline
	n.mu.Unlock()
	if offline {
		return nil, errors.New("network unreachable")
	}
	rr := httptest.NewRecorder()
	n.handler.ServeHTTP(rr, r)
	return rr.Result(), nil
}

func (n *siteNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *siteNetwork) callCount(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[path]
}

func (n *siteNetwork) totalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

func (n *siteNetwork) resetCalls() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = map[string]int{}
}

func newTestWorker(t *testing.T, version string, store cache.Provider, network Network) *Worker {
	t.Helper()
	logger := zerolog.Nop()
	w, err := NewWorker(Config{
		Version:  version,
		Manifest: testManifest,
		Store:    store,
		Network:  network,
		Logger:   &logger,
	})
	require.NoError(t, err)
	return w
}

func newTestHost() *Host {
	logger := zerolog.Nop()
	return NewHost(HostConfig{Logger: &logger})
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	require.NotNil(t, res)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()
	return string(body)
}

func navigate(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	return req
}

func subresource(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	return req
}

package offlinecache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/always-cache/offline-cache/cache"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostWithoutWorker(t *testing.T) {
	h := newTestHost()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, navigate("/"))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	err := h.Push(context.Background(), []byte(`{}`))
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
}

func TestHostFirstInstallControls(t *testing.T) {
	ctx := context.Background()
	h := newTestHost()
	network := newSiteNetwork("v1")
	w := newTestWorker(t, "v1", cache.NewMemStore(), network)
	require.NoError(t, h.Install(ctx, w))

	assert.Same(t, w, h.Active())
	assert.Same(t, w, h.Controller())

	network.setOffline(true)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, subresource("/app"))
	assert.Equal(t, "<html>app v1</html>", rr.Body.String())
}

func TestHostUpgradeClaimsAndPrunes(t *testing.T) {
	ctx := context.Background()
	h := newTestHost()
	store := cache.NewMemStore()
	require.NoError(t, h.Install(ctx, newTestWorker(t, "v1", store, newSiteNetwork("v1"))))

	v2 := newTestWorker(t, "v2", store, newSiteNetwork("v2"))
	require.NoError(t, h.Install(ctx, v2))

	// the new worker skips waiting and claims, so it controls right away
	assert.Same(t, v2, h.Controller())
	versions, err := store.Versions(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"v2"}, versions); diff != "" {
		t.Fatalf("versions mismatch (-want +got):\n%s", diff)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, subresource("/deck"))
	assert.Equal(t, "<html>deck v2</html>", rr.Body.String())
}

func TestHostFailedInstallKeepsCurrentWorker(t *testing.T) {
	ctx := context.Background()
	h := newTestHost()
	store := cache.NewMemStore()
	v1 := newTestWorker(t, "v1", store, newSiteNetwork("v1"))
	require.NoError(t, h.Install(ctx, v1))

	offline := newSiteNetwork("v2")
	offline.setOffline(true)
	err := h.Install(ctx, newTestWorker(t, "v2", store, offline))
	require.Error(t, err)

	assert.Same(t, v1, h.Controller())
	versions, err := store.Versions(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"v1"}, versions); diff != "" {
		t.Fatalf("versions mismatch (-want +got):\n%s", diff)
	}
}

// waitingWorker installs a worker that neither skips waiting nor claims.
func waitingWorker(t *testing.T, version string, store cache.Provider) *Worker {
	t.Helper()
	w := newTestWorker(t, version, store, newSiteNetwork(version))
	w.events = newEvents()
	require.NoError(t, w.events.OnInstall(func(ctx context.Context, ev InstallEvent) error {
		return w.Populate(ctx, ev.Version, w.manifest)
	}))
	require.NoError(t, w.events.OnActivate(func(ctx context.Context, ev ActivateEvent) error {
		return w.ActivateCurrent(ctx, ev.Version)
	}))
	require.NoError(t, w.events.OnFetch(w.onFetch))
	return w
}

// blockedWorker is a v2 worker whose install handler waits for release before populating.
func blockedWorker(t *testing.T, store cache.Provider) (w *Worker, started chan struct{}, release chan struct{}) {
	t.Helper()
	w = newTestWorker(t, "v2", store, newSiteNetwork("v2"))
	started = make(chan struct{})
	release = make(chan struct{})
	w.events = newEvents()
	require.NoError(t, w.events.OnInstall(func(ctx context.Context, ev InstallEvent) error {
		close(started)
		<-release
		return w.onInstall(ctx, ev)
	}))
	require.NoError(t, w.events.OnActivate(w.onActivate))
	require.NoError(t, w.events.OnFetch(w.onFetch))
	return w, started, release
}

func TestHostServesPreviousWorkerDuringInstall(t *testing.T) {
	ctx := context.Background()
	h := newTestHost()
	store := cache.NewMemStore()
	v1Network := newSiteNetwork("v1")
	v1 := newTestWorker(t, "v1", store, v1Network)
	require.NoError(t, h.Install(ctx, v1))
	v1Network.setOffline(true)

	v2, started, release := blockedWorker(t, store)
	installed := make(chan error, 1)
	go func() {
		installed <- h.Install(ctx, v2)
	}()
	<-started

	for _, req := range []*http.Request{navigate("/"), subresource("/app"), navigate("/journal")} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code, req.URL.Path)
		assert.Contains(t, rr.Body.String(), " v1</html>", req.URL.Path)
	}
	assert.Same(t, v1, h.Controller())
	assert.Same(t, v1, h.Active())
	versions, err := store.Versions(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"v1"}, versions); diff != "" {
		t.Fatalf("versions mismatch while installing (-want +got):\n%s", diff)
	}

	// keep requesting while the install finishes; each answer comes from one generation
	v1Network.setOffline(false)
	done := make(chan struct{})
	serving := make(chan struct{})
	go func() {
		defer close(serving)
		for {
			select {
			case <-done:
				return
			default:
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, subresource("/app"))
			if body := rr.Body.String(); body != "<html>app v1</html>" && body != "<html>app v2</html>" {
				t.Errorf("unexpected body during install: %d %q", rr.Code, body)
				return
			}
		}
	}()

	close(release)
	require.NoError(t, <-installed)
	close(done)
	<-serving

	assert.Same(t, v2, h.Controller())
	versions, err = store.Versions(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"v2"}, versions); diff != "" {
		t.Fatalf("versions mismatch after install (-want +got):\n%s", diff)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, subresource("/app"))
	assert.Equal(t, "<html>app v2</html>", rr.Body.String())
}

func TestHostWaitingWorkerAndNavigationHandoff(t *testing.T) {
	ctx := context.Background()
	h := newTestHost()
	store := cache.NewMemStore()
	v1 := newTestWorker(t, "v1", store, newSiteNetwork("v1"))
	require.NoError(t, h.Install(ctx, v1))

	v2 := waitingWorker(t, "v2", store)
	require.NoError(t, h.Install(ctx, v2))
	assert.Same(t, v1, h.Active())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/_offline/activate", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Same(t, v2, h.Active())
	// without claim the previous worker keeps control until the next navigation
	assert.Same(t, v1, h.Controller())

	h.ServeHTTP(httptest.NewRecorder(), subresource("/live"))
	assert.Same(t, v1, h.Controller())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, navigate("/app"))
	assert.Same(t, v2, h.Controller())
	assert.Equal(t, "<html>app v2</html>", rr.Body.String())

	err := h.ActivateWaiting(ctx)
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
}

func TestHostControlAPI(t *testing.T) {
	ctx := context.Background()
	h := newTestHost()
	require.NoError(t, h.Install(ctx, newTestWorker(t, "v1", cache.NewMemStore(), newSiteNetwork("v1"))))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/_offline/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var status hostStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "v1", status.Active)
	assert.Equal(t, "v1", status.Controller)
	assert.Empty(t, status.Waiting)
	assert.Equal(t, []string{"v1"}, status.Versions)
	assert.Len(t, status.Keys, len(testManifest))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/_offline/push", strings.NewReader(`{"body":"Breathe."}`)))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/_offline/notifications", nil))
	var shown []Notification
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &shown))
	require.Len(t, shown, 1)
	assert.Equal(t, "Breathe.", shown[0].Body)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/_offline/notifications/reminder/click", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/_offline/clients", nil))
	var windows []string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &windows))
	assert.Equal(t, []string{"/app"}, windows)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/_offline/push", strings.NewReader(`nope`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/_offline/notifications/reminder/click", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/_offline/sync/sync-entries", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/_offline/activate", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestHostMessageReachesRegisteredHandler(t *testing.T) {
	ctx := context.Background()
	h := newTestHost()
	w := newTestWorker(t, "v1", cache.NewMemStore(), newSiteNetwork("v1"))
	require.NoError(t, h.Install(ctx, w))

	// without a handler, messages are ignored
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/_offline/message", strings.NewReader("ping")))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	var got string
	require.NoError(t, w.Events().OnMessage(func(ctx context.Context, ev MessageEvent) error {
		got = string(ev.Data)
		return nil
	}))
	require.NoError(t, h.Message(ctx, []byte("ping")))
	assert.Equal(t, "ping", got)
}

func TestHostResumeInstalledWorker(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemStore()
	require.NoError(t, newTestHost().Install(ctx, newTestWorker(t, "v1", store, newSiteNetwork("v1"))))

	// a restarted host with the origin down
	offline := newSiteNetwork("v1")
	offline.setOffline(true)
	h := newTestHost()
	w := newTestWorker(t, "v1", store, offline)
	require.Error(t, h.Install(ctx, w))
	require.NoError(t, h.Resume(ctx, w))
	assert.Same(t, w, h.Controller())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, navigate("/packs"))
	assert.Equal(t, "<html>root v1</html>", rr.Body.String())

	err := h.Resume(ctx, newTestWorker(t, "v2", store, offline))
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
}

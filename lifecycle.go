package offlinecache

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"golang.org/x/sync/errgroup"
)

func (w *Worker) onInstall(ctx context.Context, ev InstallEvent) error {
	w.runtime.SkipWaiting()
	return w.Populate(ctx, ev.Version, w.manifest)
}

func (w *Worker) onActivate(ctx context.Context, ev ActivateEvent) error {
	w.runtime.Claim()
	return w.ActivateCurrent(ctx, ev.Version)
}

// Populate fetches every manifest path and stores the responses in the given generation.
// If any fetch fails or returns a non-2xx status, nothing is stored
// and the generation is not created.
func (w *Worker) Populate(ctx context.Context, version string, manifest []string) error {
	w.log.Info().Int("resources", len(manifest)).Msg("Populating store")
	entries := make([]cache.Entry, len(manifest))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range manifest {
		i, path := i, path
		g.Go(func() error {
			entry, err := w.fetchEntry(gctx, path)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.log.Warn().Err(err).Msg("Could not populate store")
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("could not populate store " + version).
			WithCause(err)
	}

	if err := w.store.Commit(ctx, version, entries); err != nil {
		w.log.Error().Err(err).Msg("Could not write to store")
		return err
	}
	w.log.Info().Int("resources", len(entries)).Msg("Store populated")
	return nil
}

// maxRedirects bounds the redirects followed for one manifest path.
const maxRedirects = 10

// fetchEntry requests the path from the network and serializes the response.
// Redirects are followed through the network; the final response is stored
// under the key of the path as listed in the manifest.
func (w *Worker) fetchEntry(ctx context.Context, path string) (cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return cache.Entry{}, err
	}
	res, err := w.fetchFollowing(ctx, req)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return cache.Entry{}, fmt.Errorf("fetch %s: unexpected status %d", path, res.StatusCode)
	}
	bts, err := serializer.SnapshotToBytes(serializer.Snapshot{
		Response: res,
		StoredAt: time.Now(),
	})
	if err != nil {
		return cache.Entry{}, fmt.Errorf("serialize %s: %w", path, err)
	}
	w.log.Trace().Str("path", path).Int("bytes", len(bts)).Msg("Fetched manifest resource")
	return cache.Entry{Key: cachekey.GetKey(req), Bytes: bts}, nil
}

// fetchFollowing fetches req and follows any redirect it answers with.
// Redirect targets are fetched by path and query from the same network.
func (w *Worker) fetchFollowing(ctx context.Context, req *http.Request) (*http.Response, error) {
	for hops := 0; ; hops++ {
		res, err := w.network.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		if !isRedirect(res.StatusCode) {
			return res, nil
		}
		location := res.Header.Get("Location")
		res.Body.Close()
		if location == "" {
			return nil, fmt.Errorf("redirect %d without location", res.StatusCode)
		}
		if hops >= maxRedirects {
			return nil, fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		target, err := req.URL.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("bad redirect location %q: %w", location, err)
		}
		w.log.Trace().Str("from", req.URL.RequestURI()).Str("to", target.RequestURI()).Msg("Following redirect")
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.RequestURI(), nil)
		if err != nil {
			return nil, err
		}
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// ActivateCurrent deletes every store generation except the given one.
func (w *Worker) ActivateCurrent(ctx context.Context, version string) error {
	versions, err := w.store.Versions(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not list store versions")
		return err
	}
	for _, v := range versions {
		if v == version {
			continue
		}
		w.log.Info().Str("stale", v).Msg("Deleting stale store")
		if err := w.store.Delete(ctx, v); err != nil {
			w.log.Error().Err(err).Str("stale", v).Msg("Could not delete stale store")
			return err
		}
	}
	return nil
}

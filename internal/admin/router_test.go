package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/pkg/generation"
)

func newWorker(t *testing.T, store cache.Storage) *offlinecache.Worker {
	t.Helper()
	origin, err := url.Parse("https://portal.example")
	require.NoError(t, err)
	site := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("page " + r.URL.Path))
	})
	w, err := offlinecache.New(offlinecache.Config{
		Generation:  generation.Name{Prefix: "portal-cache-", Version: "v2"},
		Origin:      origin,
		Network:     offlinecache.HandlerNetwork{Handler: site},
		Storage:     store,
		Precache:    []string{"/", "/index.html"},
		SkipWaiting: true,
	})
	require.NoError(t, err)
	return w
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestStatus(t *testing.T) {
	w := newWorker(t, cache.NewMemCache())
	router := NewRouter(w, Options{})

	rr := serve(router, "GET", "/status")
	require.Equal(t, http.StatusOK, rr.Code)
	var status offlinecache.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, offlinecache.StateParsed, status.State)
	assert.Equal(t, "portal-cache-v2", status.Generation)
	assert.Equal(t, w.ID(), status.ID)

	require.NoError(t, w.Start(context.Background()))
	rr = serve(router, "GET", "/status")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, offlinecache.StateActive, status.State)
}

func TestGenerationsAndKeys(t *testing.T) {
	store := cache.NewMemCache()
	require.NoError(t, store.Open("portal-cache-v1"))
	w := newWorker(t, store)
	require.NoError(t, w.Start(context.Background()))

	// mounted like the server does it
	root := chi.NewRouter()
	root.Mount("/.offline-cache", NewRouter(w, Options{}))

	rr := serve(root, "GET", "/.offline-cache/generations")
	require.Equal(t, http.StatusOK, rr.Code)
	var gens struct {
		Generations []string `json:"generations"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &gens))
	assert.Equal(t, []string{"portal-cache-v2"}, gens.Generations)

	rr = serve(root, "GET", "/.offline-cache/generations/portal-cache-v2/keys")
	require.Equal(t, http.StatusOK, rr.Code)
	var keys struct {
		Generation string   `json:"generation"`
		Keys       []string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &keys))
	assert.Equal(t, "portal-cache-v2", keys.Generation)
	assert.Equal(t, []string{
		"GET https://portal.example/",
		"GET https://portal.example/index.html",
	}, keys.Keys)
}

func TestUpdateRunsInBackground(t *testing.T) {
	store := cache.NewMemCache()
	w := newWorker(t, store)
	router := NewRouter(w, Options{})

	// a worker that was never started is installed by an update
	rr := serve(router, "POST", "/update")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	router.Wait()

	assert.Equal(t, offlinecache.StateInstalled, w.State())
	keys, err := store.Keys("portal-cache-v2")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestMetricsRoute(t *testing.T) {
	w := newWorker(t, cache.NewMemCache())
	require.NoError(t, w.Start(context.Background()))

	rr := serve(NewRouter(w, Options{}), "GET", "/metrics")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(NewRouter(w, Options{Metrics: true}), "GET", "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "offline_cache_precache_total"))
}

type brokenWorker struct {
	*offlinecache.Worker
}

func (brokenWorker) Generations() ([]string, error) {
	return nil, errors.New("disk I/O error")
}

func TestGenerationsError(t *testing.T) {
	router := NewRouter(brokenWorker{newWorker(t, cache.NewMemCache())}, Options{})
	rr := serve(router, "GET", "/generations")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "disk I/O error")
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

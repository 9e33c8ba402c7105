package offlinecache

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/pkg/generation"
	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"
)

const testOrigin = "https://portal.example"

var errOffline = errors.New("dial tcp: connect: network is unreachable")

// fakeNetwork serves requests from a handler and counts them per path.
// When offline, every fetch fails like a disconnected network would.
type fakeNetwork struct {
	mutex   sync.Mutex
	calls   map[string]int
	offline bool
	handler http.Handler
}

func newFakeNetwork(handler http.Handler) *fakeNetwork {
	return &fakeNetwork{calls: make(map[string]int), handler: handler}
}

func (n *fakeNetwork) Fetch(r *http.Request) (*http.Response, error) {
	n.mutex.Lock()
	n.calls[r.URL.Path]++
	offline := n.offline
	n.mutex.Unlock()
	if offline {
		return nil, errOffline
	}
	rw := tee.NewResponseSaver(nil)
	n.handler.ServeHTTP(rw, r)
	return rw.Result(r), nil
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) callCount(path string) int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.calls[path]
}

// failingStorage is a memory store with injectable failures.
type failingStorage struct {
	cache.MemCache
	failOpen bool
	failPut  bool
}

func (s failingStorage) Open(generation string) error {
	if s.failOpen {
		return errors.New("storage unavailable")
	}
	return s.MemCache.Open(generation)
}

func (s failingStorage) Put(ce cache.CacheEntry) error {
	if s.failPut {
		return errors.New("quota exceeded")
	}
	return s.MemCache.Put(ce)
}

// portalHandler is a tiny stand-in for the portal origin.
func portalHandler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html dir=\"rtl\">shell</html>"))
	})
	mux.HandleFunc("/index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html dir=\"rtl\">index</html>"))
	})
	mux.HandleFunc("/manifest.webmanifest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/manifest+json")
		w.Write([]byte(`{"name":"Portal","dir":"rtl"}`))
	})
	return mux
}

func testConfig(t *testing.T, network Network, storage cache.Storage) Config {
	t.Helper()
	origin, err := url.Parse(testOrigin)
	if err != nil {
		t.Fatal(err)
	}
	return Config{
		Generation:  generation.Name{Prefix: "portal-cache-", Version: "v1"},
		Origin:      origin,
		Network:     network,
		Storage:     storage,
		SkipWaiting: true,
		Development: true,
	}
}

func newTestWorker(t *testing.T, network Network, storage cache.Storage) *Worker {
	t.Helper()
	w, err := New(testConfig(t, network, storage))
	if err != nil {
		t.Fatal(err)
	}
	return w
}

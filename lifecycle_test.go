package offlinecache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/internal/metrics"
	"github.com/always-cache/offline-cache/pkg/generation"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTransitions(t *testing.T) {
	valid := []struct {
		from  State
		event Event
		to    State
	}{
		{StateParsed, EventInstall, StateInstalling},
		{StateInstalled, EventInstall, StateInstalling},
		{StateInstalling, EventInstalled, StateInstalled},
		{StateInstalling, EventFail, StateRedundant},
		{StateInstalled, EventActivate, StateActivating},
		{StateActivating, EventActivated, StateActive},
	}
	for _, tt := range valid {
		if to, err := next(tt.from, tt.event); err != nil || to != tt.to {
			t.Errorf("%s on %s: got %s (%v), want %s", tt.event, tt.from, to, err, tt.to)
		}
	}

	invalid := []struct {
		from  State
		event Event
	}{
		{StateParsed, EventActivate},
		{StateParsed, EventActivated},
		{StateInstalling, EventActivate},
		{StateActive, EventInstall},
		{StateActive, EventActivate},
		{StateRedundant, EventInstall},
		{StateActivating, EventInstall},
	}
	for _, tt := range invalid {
		to, err := next(tt.from, tt.event)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s on %s: expected invalid transition, got %v", tt.event, tt.from, err)
		}
		if to != tt.from {
			t.Errorf("%s on %s: state changed to %s", tt.event, tt.from, to)
		}
	}
}

func TestNewValidatesConfig(t *testing.T) {
	network := newFakeNetwork(portalHandler())
	config := testConfig(t, network, nil)
	if _, err := New(config); !errors.Is(err, ErrNoStorage) {
		t.Fatalf("Error is %v", err)
	}
	config = testConfig(t, network, cache.NewMemCache())
	config.Origin.Host = ""
	if _, err := New(config); !errors.Is(err, ErrNoOrigin) {
		t.Fatalf("Error is %v", err)
	}
	config = testConfig(t, network, cache.NewMemCache())
	config.Generation = generation.Name{Prefix: "portal-cache-"}
	if _, err := New(config); err == nil {
		t.Fatal("Expected error for missing version")
	}
}

func TestInstallPrecachesManifest(t *testing.T) {
	store := cache.NewMemCache()
	w := newTestWorker(t, newFakeNetwork(portalHandler()), store)

	report, err := w.Install(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Stored) != 3 || len(report.Failed) != 0 {
		t.Fatalf("Report is %+v", report)
	}
	if s := w.State(); s != StateInstalled {
		t.Fatalf("State is %s", s)
	}
	keys, _ := store.Keys("portal-cache-v1")
	want := []string{
		"GET https://portal.example/",
		"GET https://portal.example/index.html",
		"GET https://portal.example/manifest.webmanifest",
	}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("Keys are %v", keys)
	}
}

func TestInstallSurvivesMissingManifest(t *testing.T) {
	mux := portalHandler()
	origin := http.NewServeMux()
	origin.HandleFunc("/manifest.webmanifest", http.NotFound)
	origin.Handle("/", mux)
	store := cache.NewMemCache()
	w := newTestWorker(t, newFakeNetwork(origin), store)

	failedBefore := testutil.ToFloat64(metrics.PrecacheTotal.WithLabelValues("failed"))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s := w.State(); s != StateActive {
		t.Fatalf("State is %s", s)
	}
	keys, _ := store.Keys("portal-cache-v1")
	if !reflect.DeepEqual(keys, []string{"GET https://portal.example/", "GET https://portal.example/index.html"}) {
		t.Fatalf("Keys are %v", keys)
	}
	if failed := testutil.ToFloat64(metrics.PrecacheTotal.WithLabelValues("failed")) - failedBefore; failed != 1 {
		t.Fatalf("Failed precache count is %v", failed)
	}
}

func TestInstallSurvivesNetworkFailure(t *testing.T) {
	network := newFakeNetwork(portalHandler())
	network.setOffline(true)
	w := newTestWorker(t, network, cache.NewMemCache())

	report, err := w.Install(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Failed) != 3 {
		t.Fatalf("Report is %+v", report)
	}
	if s := w.State(); s != StateInstalled {
		t.Fatalf("State is %s", s)
	}
}

func TestInstallIsIdempotent(t *testing.T) {
	store := cache.NewMemCache()
	body := "first"
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})
	config := testConfig(t, newFakeNetwork(mux), store)
	config.SkipWaiting = false
	w, err := New(config)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := w.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	keysFirst, _ := store.Keys("portal-cache-v1")
	body = "second"
	if _, err := w.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	keysSecond, _ := store.Keys("portal-cache-v1")
	if !reflect.DeepEqual(keysFirst, keysSecond) {
		t.Fatalf("Keys changed: %v / %v", keysFirst, keysSecond)
	}

	if _, err := w.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("GET", testOrigin+"/index.html", nil))
	if rr.Body.String() != "second" {
		t.Fatalf("Body is %s", rr.Body.String())
	}
}

func TestActivateDeletesStaleGenerations(t *testing.T) {
	store := cache.NewMemCache()
	store.Put(cache.CacheEntry{Generation: "portal-cache-v0", Key: "GET https://portal.example/", Bytes: []byte("old")})
	store.Open("portal-cache-v00")
	store.Open("other-app-v1")
	w := newTestWorker(t, newFakeNetwork(portalHandler()), store)

	if _, err := w.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	deleted, err := w.Activate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(deleted, []string{"portal-cache-v0", "portal-cache-v00"}) {
		t.Fatalf("Deleted %v", deleted)
	}
	names, err := w.Generations()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"portal-cache-v1"}) {
		t.Fatalf("Generations are %v", names)
	}
	if foreign, _ := store.Generations("other-app-"); len(foreign) != 1 {
		t.Fatalf("Foreign generation touched: %v", foreign)
	}
}

func TestActivateWithArabicPrefixOnSQLite(t *testing.T) {
	store, err := cache.NewSQLiteCache("")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	store.Open("بوابة-v1")
	config := testConfig(t, newFakeNetwork(portalHandler()), store)
	config.Generation = generation.Name{Prefix: "بوابة-", Version: "v2"}
	w, err := New(config)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	names, err := w.Generations()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"بوابة-v2"}) {
		t.Fatalf("Generations are %v", names)
	}
}

func TestActivateBeforeInstallFails(t *testing.T) {
	w := newTestWorker(t, newFakeNetwork(portalHandler()), cache.NewMemCache())
	if _, err := w.Activate(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Error is %v", err)
	}
	if s := w.State(); s != StateParsed {
		t.Fatalf("State is %s", s)
	}
}

func TestWaitingWorkerPassesThrough(t *testing.T) {
	network := newFakeNetwork(portalHandler())
	config := testConfig(t, network, cache.NewMemCache())
	config.SkipWaiting = false
	w, err := New(config)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s := w.State(); s != StateInstalled {
		t.Fatalf("State is %s", s)
	}

	// "/" is precached, but an installed worker does not control clients yet
	before := network.callCount("/")
	w.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", testOrigin+"/", nil))
	if network.callCount("/") != before+1 {
		t.Fatal("Waiting worker served from cache")
	}
}

func TestRegisterFailureIsNotFatal(t *testing.T) {
	network := newFakeNetwork(portalHandler())
	w := newTestWorker(t, network, failingStorage{MemCache: cache.NewMemCache(), failOpen: true})

	if err := w.Register(context.Background()); err == nil {
		t.Fatal("Expected registration error")
	}
	if s := w.State(); s != StateRedundant {
		t.Fatalf("State is %s", s)
	}
	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("GET", testOrigin+"/index.html", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "<html dir=\"rtl\">index</html>" {
		t.Fatalf("Pass-through response is %d %s", rr.Code, rr.Body.String())
	}
}

func TestStartWithoutNetwork(t *testing.T) {
	w := newTestWorker(t, nil, cache.NewMemCache())
	if err := w.Start(context.Background()); !errors.Is(err, ErrNoNetwork) {
		t.Fatalf("Error is %v", err)
	}
}

func TestUpdateRefreshesActiveGeneration(t *testing.T) {
	body := "v1 shell"
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})
	network := newFakeNetwork(mux)
	w := newTestWorker(t, network, cache.NewMemCache())
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	body = "v2 shell"
	report, err := w.Update(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Stored) != 3 {
		t.Fatalf("Report is %+v", report)
	}
	if s := w.State(); s != StateActive {
		t.Fatalf("State is %s", s)
	}

	network.setOffline(true)
	rr := httptest.NewRecorder()
	w.ServeHTTP(rr, httptest.NewRequest("GET", testOrigin+"/", nil))
	if rr.Body.String() != "v2 shell" {
		t.Fatalf("Body is %s", rr.Body.String())
	}
}

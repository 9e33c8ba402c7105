package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	fetchpolicy "github.com/always-cache/offline-cache/pkg/fetch-policy"
	"github.com/always-cache/offline-cache/pkg/generation"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CacheName is the cache identifier used in Cache-Status headers.
const CacheName = "OfflineCache"

// DefaultPrecache is the precache manifest of the portal: the shell document
// under both of its paths and the web app manifest.
var DefaultPrecache = []string{"/", "/index.html", "/manifest.webmanifest"}

var (
	ErrNoStorage = errors.New("No cache storage configured")
	ErrNoNetwork = errors.New("No network configured")
	ErrNoOrigin  = errors.New("Origin must be an absolute URL")
)

type Config struct {
	// Current cache generation (prefix + version).
	// This is the single source of truth for the generation the worker writes to.
	Generation generation.Name
	// Origin (scheme, host, port) the worker serves.
	// Requests for other origins pass through untouched.
	Origin *url.URL
	// Network used to fetch responses. May be left nil when the worker is
	// used through Middleware, which sets it.
	Network Network
	// Storage for cache generations.
	Storage cache.Storage
	// Paths written to the cache on install. Defaults to DefaultPrecache.
	Precache []string
	// Request classification. Defaults to fetchpolicy.DefaultRules().
	Rules fetchpolicy.Rules
	// Activate right after install instead of waiting for an explicit Activate.
	SkipWaiting bool
	// Log precache failures as warnings. In production they are only traced.
	Development bool
	// Honour X-Forwarded-Proto and X-Forwarded-Host when deciding whether a
	// request is same-origin. Only set this behind a proxy that overwrites them.
	TrustForwardedHeaders bool
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Worker is the offline cache worker.
// It is an http.Handler; until it is active it passes every request through.
type Worker struct {
	id          string
	name        generation.Name
	origin      *url.URL
	keyer       cachekey.CacheKeyer
	network     Network
	storage     cache.Storage
	precache    []string
	rules       fetchpolicy.Rules
	skipWaiting bool
	development bool
	// X-Forwarded-* headers come from a trusted proxy
	trustForwarded bool
	log            zerolog.Logger

	// serializes install and activate
	lifecycle sync.Mutex
	// guards state
	mutex sync.RWMutex
	state State

	// delayed refreshes, stopped by Close
	background context.Context
	stop       context.CancelFunc
	closeMutex sync.Mutex
	closed     bool
	refreshes  sync.WaitGroup
}

// New creates a worker in the Parsed state.
// Nothing is fetched or stored until Install (or Start) is called.
func New(config Config) (*Worker, error) {
	if config.Storage == nil {
		return nil, ErrNoStorage
	}
	if config.Origin == nil || !config.Origin.IsAbs() || config.Origin.Host == "" {
		return nil, ErrNoOrigin
	}
	name, err := generation.New(config.Generation.Prefix, config.Generation.Version)
	if err != nil {
		return nil, err
	}

	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}

	w := &Worker{
		id:             uuid.NewString(),
		name:           name,
		origin:         config.Origin,
		keyer:          cachekey.NewCacheKeyer(config.Origin),
		network:        config.Network,
		storage:        config.Storage,
		precache:       config.Precache,
		rules:          config.Rules,
		skipWaiting:    config.SkipWaiting,
		development:    config.Development,
		trustForwarded: config.TrustForwardedHeaders,
		state:          StateParsed,
	}
	w.background, w.stop = context.WithCancel(context.Background())
	if w.precache == nil {
		w.precache = DefaultPrecache
	}
	if w.rules == nil {
		w.rules = fetchpolicy.DefaultRules()
	}
	// create a child logger and add defaults
	w.log = logger.With().
		Str("worker", w.id).
		Str("generation", name.String()).
		Logger()
	return w, nil
}

// ID returns the unique id of this worker instance.
func (w *Worker) ID() string {
	return w.id
}

// Generation returns the current generation name.
func (w *Worker) Generation() generation.Name {
	return w.name
}

// Generations lists the stored generations carrying the worker's prefix.
// After activation this is exactly the current generation.
func (w *Worker) Generations() ([]string, error) {
	names, err := w.storage.Generations(w.name.Prefix)
	if err != nil {
		return nil, fmt.Errorf("could not list generations: %w", err)
	}
	return names, nil
}

// Status is a snapshot of the worker for diagnostics.
type Status struct {
	ID         string   `json:"id"`
	State      State    `json:"state"`
	Generation string   `json:"generation"`
	Origin     string   `json:"origin"`
	Precache   []string `json:"precache"`
}

func (w *Worker) Status() Status {
	return Status{
		ID:         w.id,
		State:      w.State(),
		Generation: w.name.String(),
		Origin:     w.origin.String(),
		Precache:   append([]string(nil), w.precache...),
	}
}

// Keys lists the entry keys of a generation.
func (w *Worker) Keys(generationName string) ([]string, error) {
	return w.storage.Keys(generationName)
}

// Close cancels pending delayed refreshes and waits for running ones.
// Call it before closing the storage. Requests are still served afterwards,
// but Cache-Update delays are no longer honoured.
func (w *Worker) Close() {
	w.closeMutex.Lock()
	w.closed = true
	w.stop()
	w.closeMutex.Unlock()
	w.refreshes.Wait()
}

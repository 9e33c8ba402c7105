package offlinecache

import (
	"context"
	"time"

	cacheupdate "github.com/always-cache/offline-cache/pkg/cache-update"
)

// Update refreshes the precached entries of the current generation.
// An active worker keeps serving while the entries are overwritten; a worker
// that is still waiting is installed again. Running it repeatedly leaves the
// generation with the same set of keys.
func (w *Worker) Update(ctx context.Context) (PrecacheReport, error) {
	if w.State() != StateActive {
		return w.Install(ctx)
	}

	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.log.Info().Msgf("Updating %d precached entries", len(w.precache))
	if err := w.storage.Open(w.name.String()); err != nil {
		w.log.Error().Err(err).Msg("Could not open generation for update")
		return PrecacheReport{}, err
	}
	return w.precacheAll(ctx), nil
}

// applyCacheUpdates refreshes the paths an origin response asked for with
// Cache-Update headers. Delayed updates run in the background.
// Like precaching, only 200 responses are stored.
func (w *Worker) applyCacheUpdates(ctx context.Context, updates []cacheupdate.CacheUpdate) {
	for _, update := range updates {
		path := update.Path
		w.log.Trace().Str("update", path).Msg("Updating cache based on header")
		if update.Delay > 0 {
			w.refreshLater(path, update.Delay)
			continue
		}
		w.refresh(ctx, path)
	}
}

// refreshLater refreshes path after delay unless the worker is closed first.
func (w *Worker) refreshLater(path string, delay time.Duration) {
	w.closeMutex.Lock()
	defer w.closeMutex.Unlock()
	if w.closed {
		w.log.Debug().Str("path", path).Msg("Worker closed, dropping delayed update")
		return
	}
	w.refreshes.Add(1)
	go func() {
		defer w.refreshes.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			w.refresh(w.background, path)
		case <-w.background.Done():
			w.log.Debug().Str("path", path).Msg("Delayed update cancelled")
		}
	}()
}

func (w *Worker) refresh(ctx context.Context, path string) {
	if err := w.precacheOne(ctx, path); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("Could not update cache entry")
	}
}

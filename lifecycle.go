package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/always-cache/offline-cache/internal/metrics"
)

// State is the lifecycle state of a worker.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActive     State = "active"
	// The worker could not install and will never become active.
	StateRedundant State = "redundant"
)

// Event drives the lifecycle state machine.
type Event string

const (
	EventInstall   Event = "install"
	EventInstalled Event = "installed"
	EventFail      Event = "fail"
	EventActivate  Event = "activate"
	EventActivated Event = "activated"
)

var ErrInvalidTransition = errors.New("Invalid lifecycle transition")

// next is the transition function of the lifecycle.
// Precaching happens in Installing and generation cleanup in Activating,
// so both are complete before the worker can reach Active.
func next(state State, event Event) (State, error) {
	switch {
	case event == EventInstall && (state == StateParsed || state == StateInstalled):
		return StateInstalling, nil
	case event == EventInstalled && state == StateInstalling:
		return StateInstalled, nil
	case event == EventFail && state == StateInstalling:
		return StateRedundant, nil
	case event == EventActivate && state == StateInstalled:
		return StateActivating, nil
	case event == EventActivated && state == StateActivating:
		return StateActive, nil
	}
	return state, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, state)
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.state
}

func (w *Worker) active() bool {
	return w.State() == StateActive
}

func (w *Worker) transition(event Event) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	to, err := next(w.state, event)
	if err != nil {
		return err
	}
	w.log.Info().Str("from", string(w.state)).Str("to", string(to)).Msg("Worker lifecycle transition")
	w.state = to
	metrics.LifecycleTransitionsTotal.WithLabelValues(string(to)).Inc()
	return nil
}

// PrecacheReport lists which manifest paths made it into the generation.
type PrecacheReport struct {
	Stored []string
	Failed []string
}

// Install opens the current generation and writes every precache path into it.
// A path that cannot be fetched, or does not answer 200, is skipped and only
// logged; it never fails the installation. An error is returned only if the
// transition is not allowed or the generation cannot be opened, in which case
// the worker becomes redundant.
func (w *Worker) Install(ctx context.Context) (PrecacheReport, error) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if w.network == nil {
		return PrecacheReport{}, ErrNoNetwork
	}
	if err := w.transition(EventInstall); err != nil {
		return PrecacheReport{}, err
	}
	if err := w.storage.Open(w.name.String()); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("open").Inc()
		w.transition(EventFail)
		return PrecacheReport{}, fmt.Errorf("could not open generation %s: %w", w.name, err)
	}
	report := w.precacheAll(ctx)
	if err := w.transition(EventInstalled); err != nil {
		return report, err
	}
	if w.skipWaiting {
		w.log.Debug().Msg("Skipping waiting phase")
	}
	return report, nil
}

func (w *Worker) precacheAll(ctx context.Context) PrecacheReport {
	report := PrecacheReport{
		Stored: make([]string, 0, len(w.precache)),
		Failed: make([]string, 0),
	}
	for _, path := range w.precache {
		if err := w.precacheOne(ctx, path); err != nil {
			report.Failed = append(report.Failed, path)
			metrics.PrecacheTotal.WithLabelValues("failed").Inc()
			// only visible while developing
			event := w.log.Trace()
			if w.development {
				event = w.log.Warn()
			}
			event.Err(err).Str("path", path).Msg("Could not precache")
			continue
		}
		report.Stored = append(report.Stored, path)
		metrics.PrecacheTotal.WithLabelValues("stored").Inc()
	}
	w.log.Debug().Strs("stored", report.Stored).Strs("failed", report.Failed).Msg("Precache done")
	return report
}

func (w *Worker) precacheOne(ctx context.Context, path string) error {
	target, err := w.origin.Parse(path)
	if err != nil {
		return fmt.Errorf("invalid precache path: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	res, err := w.network.Fetch(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	return w.store(req, res)
}

// Activate deletes every generation with the worker's prefix other than the
// current one and then starts intercepting requests.
// Failures to list or delete old generations are logged, they do not block
// activation. It returns the names of the deleted generations.
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if err := w.transition(EventActivate); err != nil {
		return nil, err
	}
	deleted := make([]string, 0)
	names, err := w.storage.Generations(w.name.Prefix)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("list").Inc()
		w.log.Error().Err(err).Msg("Could not list generations")
	}
	for _, stale := range w.name.Stale(names) {
		if ctx.Err() != nil {
			w.log.Warn().Err(ctx.Err()).Msg("Generation cleanup interrupted")
			break
		}
		if _, err := w.storage.DeleteGeneration(stale); err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("delete").Inc()
			w.log.Error().Err(err).Str("stale", stale).Msg("Could not delete generation")
			continue
		}
		metrics.GenerationsDeletedTotal.Inc()
		version, _ := w.name.VersionOf(stale)
		w.log.Info().Str("stale", stale).Str("version", version).Msg("Deleted stale generation")
		deleted = append(deleted, stale)
	}
	if err := w.transition(EventActivated); err != nil {
		return deleted, err
	}
	w.log.Info().Msg("Claimed clients")
	return deleted, nil
}

// Start installs the worker and, when skipping the waiting phase, activates it.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.Install(ctx); err != nil {
		return err
	}
	if !w.skipWaiting {
		return nil
	}
	_, err := w.Activate(ctx)
	return err
}

// Register starts the worker. A failure is logged and returned, but the
// worker keeps serving as a pass-through, so callers may ignore it.
func (w *Worker) Register(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		w.log.Error().Err(err).Msg("Worker registration failed")
		return err
	}
	w.log.Info().Str("state", string(w.State())).Msg("Worker registered")
	return nil
}

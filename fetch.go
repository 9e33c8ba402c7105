package offlinecache

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/internal/metrics"
	cacheupdate "github.com/always-cache/offline-cache/pkg/cache-update"
	fetchpolicy "github.com/always-cache/offline-cache/pkg/fetch-policy"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	"github.com/always-cache/offline-cache/rfc9211"

	"github.com/rs/zerolog"
)

// ServeHTTP implements the http.Handler interface.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	tw := &trackingWriter{ResponseWriter: rw}
	defer w.recover(tw, r)
	w.handle(tw, r)
}

// recover recovers from panics and passes the request through if needed.
// Once a response has been started it can only be logged.
func (w *Worker) recover(tw *trackingWriter, r *http.Request) {
	if err := recover(); err != nil {
		w.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Bool("responseStarted", tw.started).Msg("Panic in worker handler")
		if !tw.started {
			w.passthrough(tw, r, rfc9211.FwdReasonBypass, "")
		}
	}
}

// trackingWriter remembers whether anything was sent to the client.
type trackingWriter struct {
	http.ResponseWriter
	started bool
}

func (t *trackingWriter) WriteHeader(statusCode int) {
	t.started = true
	t.ResponseWriter.WriteHeader(statusCode)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.started = true
	return t.ResponseWriter.Write(b)
}

func (t *trackingWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

// handle is the fetch interception entry point.
func (w *Worker) handle(rw http.ResponseWriter, r *http.Request) {
	if !w.active() {
		w.passthrough(rw, r, rfc9211.FwdReasonBypass, "inactive")
		return
	}
	if !sameOrigin(requestURL(r, w.origin, w.trustForwarded), w.origin) {
		w.passthrough(rw, r, rfc9211.FwdReasonBypass, "cross-origin")
		return
	}
	if r.Method != http.MethodGet {
		w.passthrough(rw, r, rfc9211.FwdReasonMethod, "")
		return
	}

	switch w.rules.Classify(r) {
	case fetchpolicy.NetworkFirst:
		w.networkFirst(rw, r)
	default:
		w.cacheFirst(rw, r)
	}
}

// networkFirst prefers a live response and falls back to the stored one.
func (w *Worker) networkFirst(rw http.ResponseWriter, r *http.Request) {
	policy := fetchpolicy.NetworkFirst
	log := w.requestLog(r, policy)
	var cs rfc9211.CacheStatus

	res, err := w.network.Fetch(r)
	if err == nil && res.StatusCode == http.StatusOK {
		cs.Forward(rfc9211.FwdReasonRequest)
		cs.FwdStatus = res.StatusCode
		cs.Stored = w.store(r, res) == nil
		w.send(rw, r, res, cs, policy, metrics.SourceNetwork)
		return
	}
	if err != nil {
		log.Trace().Err(err).Msg("Network unavailable, trying cache")
	} else {
		log.Trace().Int("status", res.StatusCode).Msg("Network answered with error, trying cache")
	}

	if cached := w.lookup(r, r); cached != nil {
		if res != nil {
			res.Body.Close()
		}
		cs.Hit()
		cs.Detail = "network-fallback"
		w.send(rw, r, cached, cs, policy, metrics.SourceCache)
		return
	}

	// nothing stored either
	cs.Forward(rfc9211.FwdReasonUriMiss)
	if res != nil {
		cs.FwdStatus = res.StatusCode
		w.send(rw, r, res, cs, policy, metrics.SourceNetwork)
		return
	}
	cs.Detail = "offline"
	w.sendOffline(rw, r, cs, policy)
}

// cacheFirst serves stored responses without any network access.
// Only on a miss the network is asked, and successful answers are stored.
func (w *Worker) cacheFirst(rw http.ResponseWriter, r *http.Request) {
	policy := fetchpolicy.CacheFirst
	log := w.requestLog(r, policy)
	var cs rfc9211.CacheStatus

	if cached := w.lookup(r, r); cached != nil {
		cs.Hit()
		w.send(rw, r, cached, cs, policy, metrics.SourceCache)
		return
	}

	cs.Forward(rfc9211.FwdReasonUriMiss)
	res, err := w.network.Fetch(r)
	if err != nil {
		log.Trace().Err(err).Msg("Network unavailable")
		w.offlineFallback(rw, r, cs, policy)
		return
	}
	cs.FwdStatus = res.StatusCode
	if res.StatusCode == http.StatusOK {
		cs.Stored = w.store(r, res) == nil
	}
	w.send(rw, r, res, cs, policy, metrics.SourceNetwork)
}

// offlineFallback answers a request that missed the cache while offline.
// Navigations get the cached shell document if there is one.
func (w *Worker) offlineFallback(rw http.ResponseWriter, r *http.Request, cs rfc9211.CacheStatus, policy fetchpolicy.Policy) {
	if isNavigation(r) {
		shellReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, w.origin.ResolveReference(&url.URL{Path: "/"}).String(), nil)
		if err == nil {
			if shell := w.lookup(shellReq, r); shell != nil {
				cs.Detail = "shell"
				w.send(rw, r, shell, cs, policy, metrics.SourceShell)
				return
			}
		}
	}
	cs.Detail = "offline"
	w.sendOffline(rw, r, cs, policy)
}

// lookup returns the stored response for key request, attached to the
// client request, or nil on a miss. Storage errors count as a miss.
func (w *Worker) lookup(keyReq, clientReq *http.Request) *http.Response {
	key := w.keyer.Key(keyReq)
	ce, ok, err := w.storage.Get(w.name.String(), key)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("get").Inc()
		w.log.Error().Err(err).Str("key", key).Msg("Could not retrieve from cache")
		return nil
	}
	if !ok {
		return nil
	}
	sRes, err := serializer.BytesToResponse(ce.Bytes, clientReq)
	if err != nil {
		w.log.Error().Err(err).Str("key", key).Msg("Could not read stored response")
		return nil
	}
	return sRes.Response
}

// store writes a snapshot of the response into the current generation,
// overwriting any previous entry for the request. The response body stays
// readable for the caller. Failures are logged and returned; the live
// response is still usable.
func (w *Worker) store(r *http.Request, res *http.Response) error {
	key := w.keyer.Key(r)
	bts, err := serializer.ResponseToBytes(serializer.StoredResponse{
		Response: res,
		StoredAt: time.Now(),
	})
	if err == nil {
		err = w.storage.Put(cache.CacheEntry{
			Generation: w.name.String(),
			Key:        key,
			StoredAt:   time.Now(),
			Bytes:      bts,
		})
	}
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("put").Inc()
		w.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		return err
	}
	w.log.Trace().Str("key", key).Msg("Wrote to cache")
	return nil
}

// passthrough forwards the request as if there was no worker at all.
func (w *Worker) passthrough(rw http.ResponseWriter, r *http.Request, reason rfc9211.FwdReason, detail string) {
	if w.network == nil {
		http.Error(rw, "No network configured", http.StatusBadGateway)
		return
	}
	res, err := w.network.Fetch(r)
	if err != nil {
		w.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not fetch response from network")
		http.Error(rw, "Error contacting origin", http.StatusBadGateway)
		return
	}
	if reason == rfc9211.FwdReasonMethod {
		// refreshed before responding, so the client's next read sees the change
		w.applyCacheUpdates(r.Context(), cacheupdate.GetCacheUpdates(r, res))
	}
	cs := rfc9211.CacheStatus{FwdStatus: res.StatusCode, Detail: detail}
	cs.Forward(reason)
	w.send(rw, r, res, cs, "", metrics.SourcePassthrough)
}

func (w *Worker) sendOffline(rw http.ResponseWriter, r *http.Request, cs rfc9211.CacheStatus, policy fetchpolicy.Policy) {
	rw.Header().Set(rfc9211.HeaderName, cs.Format(CacheName))
	writeOffline(rw, isNavigation(r))
	w.logRequest(r, cs, policy, metrics.SourceOffline, http.StatusServiceUnavailable)
}

func (w *Worker) send(rw http.ResponseWriter, r *http.Request, res *http.Response, cs rfc9211.CacheStatus, policy fetchpolicy.Policy, source string) {
	defer res.Body.Close()
	copyHeader(rw.Header(), res.Header)
	removeHopHeaders(rw.Header())
	if res.ContentLength >= 0 {
		rw.Header().Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	rw.Header().Set(rfc9211.HeaderName, cs.Format(CacheName))
	rw.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(rw, res.Body)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not write response body to client")
	}
	w.logRequest(r, cs, policy, source, res.StatusCode)
	w.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func (w *Worker) requestLog(r *http.Request, policy fetchpolicy.Policy) zerolog.Logger {
	return w.log.With().
		Str("key", w.keyer.Key(r)).
		Str("policy", string(policy)).
		Logger()
}

func (w *Worker) logRequest(r *http.Request, cs rfc9211.CacheStatus, policy fetchpolicy.Policy, source string, status int) {
	policyLabel := string(policy)
	if policyLabel == "" {
		policyLabel = "none"
	}
	metrics.ResponsesTotal.WithLabelValues(policyLabel, source).Inc()
	w.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("policy", policyLabel).
		Str("source", source).
		Int("status", status).
		Str("cacheStatus", cs.Format(CacheName)).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

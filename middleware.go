package offlinecache

import "net/http"

// Middleware makes next the worker's network and returns the worker as the handler.
// It must be called before Start, since installing fetches the precache
// manifest from next. Precache requests are built by the worker, so next
// should be a complete handler such as a router, not an inner route.
func (w *Worker) Middleware(next http.Handler) http.Handler {
	w.network = HandlerNetwork{Handler: next}
	return w
}

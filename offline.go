package offlinecache

import (
	"net/http"
	"strings"
)

const offlineBody = "Offline"

// isNavigation reports whether the request loads a top-level document.
// Fetch metadata headers are authoritative when present; older clients
// are recognized by asking for HTML.
func isNavigation(r *http.Request) bool {
	dest := r.Header.Get("Sec-Fetch-Dest")
	mode := r.Header.Get("Sec-Fetch-Mode")
	if dest != "" || mode != "" {
		return dest == "document" || mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// writeOffline sends the synthetic response used when neither the network
// nor the cache can answer the request.
func writeOffline(w http.ResponseWriter, navigation bool) {
	contentType := "text/plain"
	if navigation {
		contentType = "text/html; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte(offlineBody))
}

package offlinecache

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"time"

	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"
)

// Network is how the worker reaches the network.
// Fetch returns an error only if no response could be obtained at all
// (connection refused, DNS failure, timeout); HTTP error statuses are responses.
type Network interface {
	Fetch(r *http.Request) (*http.Response, error)
}

// NetworkFunc adapts a function to the Network interface.
type NetworkFunc func(r *http.Request) (*http.Response, error)

func (f NetworkFunc) Fetch(r *http.Request) (*http.Response, error) {
	return f(r)
}

// OriginNetwork fetches same-origin requests from an upstream server and
// everything else from wherever the request URL points.
type OriginNetwork struct {
	origin     *url.URL
	upstream   *url.URL
	hostHeader string
	client     *http.Client
}

// NewOriginNetwork returns a network sending same-origin requests to upstream.
// The upstream may differ from the public origin, e.g. a local port behind a TLS terminator.
// If host is set it is used as Host header and TLS server name for upstream requests.
func NewOriginNetwork(origin, upstream *url.URL, host string, timeout time.Duration) *OriginNetwork {
	n := &OriginNetwork{
		origin:     origin,
		upstream:   upstream,
		hostHeader: origin.Host,
		client: &http.Client{
			Timeout: timeout,
			// do not follow redirects, the client does that
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	if host != "" {
		n.hostHeader = host
		n.client.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: host,
			},
		}
	}
	return n
}

func (n *OriginNetwork) Fetch(r *http.Request) (*http.Response, error) {
	out := r.Clone(r.Context())
	// set by the server for incoming requests, not allowed on client requests
	out.RequestURI = ""
	if !out.URL.IsAbs() || sameOrigin(out.URL, n.origin) {
		out.URL.Scheme = n.upstream.Scheme
		out.URL.Host = n.upstream.Host
		out.Host = n.hostHeader
	}
	removeHopHeaders(out.Header)
	return n.client.Do(out)
}

// HandlerNetwork treats an http.Handler as the network.
// It is used when the worker runs as middleware in front of an in-process handler.
type HandlerNetwork struct {
	Handler http.Handler
}

func (n HandlerNetwork) Fetch(r *http.Request) (*http.Response, error) {
	rw := tee.NewResponseSaver(nil)
	n.Handler.ServeHTTP(rw, r)
	return rw.Result(r), nil
}

// Hop-by-hop headers. These are removed when sent to the backend.
// http://www.w3.org/Protocols/rfc2616/rfc2616-sec13.html
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// sameOrigin reports whether scheme, host and port of the two URLs match.
func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

// requestURL returns the absolute URL the client asked for.
// Origin-form requests (the usual case behind a reverse proxy) take the
// scheme from TLS, falling back to the worker's origin scheme, and the host
// from the Host header. X-Forwarded-Proto and X-Forwarded-Host override them
// only when trustForwarded is set, i.e. a proxy in front sets them.
func requestURL(r *http.Request, origin *url.URL, trustForwarded bool) *url.URL {
	if r.URL.IsAbs() {
		return r.URL
	}
	u := *r.URL
	switch {
	case trustForwarded && r.Header.Get("X-Forwarded-Proto") != "":
		u.Scheme = strings.ToLower(strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-Proto"), ",")[0]))
	case r.TLS != nil:
		u.Scheme = "https"
	default:
		u.Scheme = origin.Scheme
	}
	u.Host = r.Host
	if fwdHost := r.Header.Get("X-Forwarded-Host"); trustForwarded && fwdHost != "" {
		u.Host = strings.TrimSpace(strings.Split(fwdHost, ",")[0])
	}
	if u.Host == "" {
		u.Host = origin.Host
	}
	return &u
}

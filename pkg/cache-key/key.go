package cachekey

import (
	"net/http"
	"net/url"
	"strings"
)

const methodSeparator = " "

// CacheKeyer builds the cache key of a same-origin request.
// A key is the request method followed by the absolute request URL
// (origin plus request URI, without fragment), e.g. "GET https://portal.example/index.html".
type CacheKeyer struct {
	// Origin the worker serves, as scheme://host[:port].
	Origin string
}

// NewCacheKeyer returns a keyer for the given origin URL.
// Only scheme and host of the URL are used.
func NewCacheKeyer(origin *url.URL) CacheKeyer {
	return CacheKeyer{
		Origin: strings.ToLower(origin.Scheme) + "://" + strings.ToLower(origin.Host),
	}
}

// Key returns the cache key for the request.
// Two requests with the same method and request URI map to the same key,
// regardless of their headers.
func (c CacheKeyer) Key(r *http.Request) string {
	return c.KeyFor(r.Method, r.URL)
}

// KeyFor returns the cache key for the given method and URL.
func (c CacheKeyer) KeyFor(method string, u *url.URL) string {
	return strings.ToUpper(method) + methodSeparator + c.Origin + u.RequestURI()
}

// Package rfc9211 implements the Cache-Status HTTP response header field
// (RFC 9211) as emitted by the offline cache.
package rfc9211

import (
	"fmt"
	"strings"
)

const HeaderName = "Cache-Status"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics did not allow its use.
	FwdReasonRequest FwdReason = "request"
)

// CacheStatus is a single member of the Cache-Status list.
type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// Status code of the forwarded response, 0 if not known.
	FwdStatus int
	// Whether the response was stored in the cache.
	Stored bool
	Detail string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// Format returns the list member for the named cache, e.g.
// `OfflineCache; fwd=uri-miss; fwd-status=200; stored`.
func (cs CacheStatus) Format(cacheName string) string {
	parts := []string{cacheName}
	switch cs.Status {
	case StatusHit:
		parts = append(parts, "hit")
	case StatusFwd:
		parts = append(parts, "fwd="+string(cs.FwdReason))
		if cs.FwdStatus != 0 {
			parts = append(parts, fmt.Sprintf("fwd-status=%d", cs.FwdStatus))
		}
	}
	if cs.Stored {
		parts = append(parts, "stored")
	}
	if cs.Detail != "" {
		parts = append(parts, "detail="+cs.Detail)
	}
	return strings.Join(parts, "; ")
}

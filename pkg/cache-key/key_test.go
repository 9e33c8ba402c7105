package cachekey

import (
	"net/http"
	"net/url"
	"testing"
)

func newKeyer(t *testing.T) CacheKeyer {
	origin, err := url.Parse("https://Portal.Example")
	if err != nil {
		t.Fatal(err)
	}
	return NewCacheKeyer(origin)
}

func TestKeyIncludesMethodAndURL(t *testing.T) {
	keygen := newKeyer(t)
	r, _ := http.NewRequest("GET", "/dashboard?tab=users#top", nil)
	if key := keygen.Key(r); key != "GET https://portal.example/dashboard?tab=users" {
		t.Fatalf("Key is %s", key)
	}
}

func TestKeyIgnoresHeaders(t *testing.T) {
	keygen := newKeyer(t)
	a, _ := http.NewRequest("GET", "/index.html", nil)
	b, _ := http.NewRequest("GET", "/index.html", nil)
	b.Header.Set("Accept-Language", "ar")
	if keygen.Key(a) != keygen.Key(b) {
		t.Fatalf("Keys differ: %s / %s", keygen.Key(a), keygen.Key(b))
	}
}

func TestKeyUsesOriginForRelativeRequests(t *testing.T) {
	keygen := newKeyer(t)
	rel, _ := http.NewRequest("GET", "/manifest.webmanifest", nil)
	abs, _ := http.NewRequest("GET", "https://portal.example/manifest.webmanifest", nil)
	if keygen.Key(rel) != keygen.Key(abs) {
		t.Fatalf("Keys differ: %s / %s", keygen.Key(rel), keygen.Key(abs))
	}
	u, _ := url.Parse("https://portal.example/")
	if key := keygen.KeyFor("get", u); key != "GET https://portal.example/" {
		t.Fatalf("Key is %s", key)
	}
}

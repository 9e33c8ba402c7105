package tee

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSaverCapturesResponse(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("body{direction:rtl}"))
	})
	req := httptest.NewRequest("GET", "/asset/app.css", nil)
	rs := NewResponseSaver(nil)
	handler.ServeHTTP(rs, req)

	res := rs.Result(req)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/css" {
		t.Fatalf("Content-Type is %s", ct)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "body{direction:rtl}" {
		t.Fatalf("Body is %s", body)
	}
	if res.Request != req {
		t.Fatal("Request not attached")
	}
}

func TestSaverTeesToWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	rs := NewResponseSaver(rr)
	rs.Header().Set("X-Test", "yes")
	rs.WriteHeader(http.StatusNotFound)
	rs.Write([]byte("missing"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("Code is %d", rr.Code)
	}
	if rr.Header().Get("X-Test") != "yes" {
		t.Fatalf("Header not copied: %v", rr.Header())
	}
	if rr.Body.String() != "missing" || string(rs.Body()) != "missing" {
		t.Fatalf("Bodies are %q and %q", rr.Body.String(), rs.Body())
	}
}

func TestImplicitStatus(t *testing.T) {
	rs := NewResponseSaver(nil)
	if rs.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rs.StatusCode())
	}
}

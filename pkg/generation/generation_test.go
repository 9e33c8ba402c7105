package generation

import (
	"testing"
)

func TestNameString(t *testing.T) {
	n, err := New("portal-cache-", "v3")
	if err != nil {
		t.Fatal(err)
	}
	if s := n.String(); s != "portal-cache-v3" {
		t.Fatalf("Name is %s", s)
	}
}

func TestNewRequiresBothParts(t *testing.T) {
	if _, err := New("", "v1"); err == nil {
		t.Fatal("Expected error for empty prefix")
	}
	if _, err := New("portal-cache-", ""); err == nil {
		t.Fatal("Expected error for empty version")
	}
}

func TestStaleKeepsForeignAndCurrent(t *testing.T) {
	n := Name{Prefix: "portal-cache-", Version: "v3"}
	stale := n.Stale([]string{"portal-cache-v1", "portal-cache-v3", "other-app-v1", "portal-cache-v2"})
	if len(stale) != 2 || stale[0] != "portal-cache-v1" || stale[1] != "portal-cache-v2" {
		t.Fatalf("Stale generations are %v", stale)
	}
}

func TestVersionOf(t *testing.T) {
	n := Name{Prefix: "portal-cache-", Version: "v3"}
	if v, ok := n.VersionOf("portal-cache-v2"); !ok || v != "v2" {
		t.Fatalf("Version is %q (%v)", v, ok)
	}
	if _, ok := n.VersionOf("other-app-v2"); ok {
		t.Fatal("Foreign generation reported as owned")
	}
}

package rfc9211

import "testing"

func TestFormat(t *testing.T) {
	var cs CacheStatus
	cs.Hit()
	if s := cs.Format("OfflineCache"); s != "OfflineCache; hit" {
		t.Fatalf("Cache-Status is %s", s)
	}

	cs = CacheStatus{}
	cs.Forward(FwdReasonUriMiss)
	cs.FwdStatus = 200
	cs.Stored = true
	if s := cs.Format("OfflineCache"); s != "OfflineCache; fwd=uri-miss; fwd-status=200; stored" {
		t.Fatalf("Cache-Status is %s", s)
	}

	cs = CacheStatus{Detail: "offline"}
	cs.Forward(FwdReasonUriMiss)
	if s := cs.Format("OfflineCache"); s != "OfflineCache; fwd=uri-miss; detail=offline" {
		t.Fatalf("Cache-Status is %s", s)
	}
}

package app

import (
	"net/http"
	"reflect"
	"testing"
)

func TestNewArchiveHTTPClient_Config(t *testing.T) {
	c := newArchiveHTTPClient(6)
	if c.Timeout == 0 {
		t.Fatalf("expected non-zero timeout")
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected http.Transport")
	}
	if tr.MaxConnsPerHost != 6 || tr.MaxIdleConnsPerHost != 6 {
		t.Fatalf("expected per-host pool of 6, got conns=%d idle=%d", tr.MaxConnsPerHost, tr.MaxIdleConnsPerHost)
	}
	// Ensure we didn't return the default client's transport
	if reflect.ValueOf(http.DefaultTransport).Pointer() == reflect.ValueOf(tr).Pointer() {
		t.Fatalf("transport should not be default")
	}
}

func TestNewArchiveHTTPClient_DefaultPool(t *testing.T) {
	tr := newArchiveHTTPClient(0).Transport.(*http.Transport)
	if tr.MaxConnsPerHost != DefaultMaxWorkers {
		t.Fatalf("MaxConnsPerHost=%d, want %d", tr.MaxConnsPerHost, DefaultMaxWorkers)
	}
}

package adsadmin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adscore/adsrouter/adsconfig"
	"github.com/adscore/adsrouter/router"
)

func newTestServer(t *testing.T) (*Server, *router.Router) {
	t.Helper()
	rt := router.New(router.WithLocalNetId(router.AmsNetId{10, 0, 0, 1, 1, 1}))
	t.Cleanup(func() { rt.Close() })

	cfg := adsconfig.DefaultConfig()
	srv := NewServer(rt, cfg)
	t.Cleanup(func() { srv.hub.Close() })
	return srv, rt
}

func TestHandleHealthEmptyRouter(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.ConnectionsActive != 0 {
		t.Fatalf("body = %+v, want status=ok connections_active=0", body)
	}
}

func TestHandleRoutesEmptyRouter(t *testing.T) {
	// This test only exercises the empty case: dialing a real
	// Connection requires a live TCP listener, covered by router's own
	// AddRoute tests against a mock device. Here we assert the JSON
	// shape is well-formed for the zero-route state admin surfaces see
	// most often right after process start.
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/routes", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	var body RoutesResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 0 || len(body.Routes) != 0 {
		t.Fatalf("body = %+v, want empty", body)
	}
}

func TestHandleMetricsWithoutInMemorySink(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (router built with default no-op metrics)", rec.Code)
	}
}

func TestHandleMetricsWithInMemorySink(t *testing.T) {
	rt := router.New(router.WithMetrics(router.NewInMemoryMetrics()))
	defer rt.Close()
	cfg := adsconfig.DefaultConfig()
	srv := NewServer(rt, cfg)
	defer srv.hub.Close()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestNotificationHubBroadcastsToClients(t *testing.T) {
	srv, _ := newTestServer(t)

	ch := make(chan notificationPush, 1)
	srv.hub.mu.Lock()
	srv.hub.clients[nil] = ch
	srv.hub.mu.Unlock()

	src := router.AmsAddr{NetId: router.AmsNetId{5, 24, 37, 144, 1, 1}, Port: 851}
	srv.hub.onDeliver(src, 0xABCD, router.NotificationHeader{SampleLen: 4}, []byte{1, 2, 3, 4})

	select {
	case push := <-ch:
		if push.Handle != 0xABCD || push.DataHex != "01020304" {
			t.Fatalf("push = %+v, want handle=0xABCD data_hex=01020304", push)
		}
	default:
		t.Fatal("expected a push on the client channel")
	}

	srv.hub.mu.Lock()
	delete(srv.hub.clients, nil)
	srv.hub.mu.Unlock()
}

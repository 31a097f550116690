package adsadmin

import (
	"net/http"
	"time"

	"github.com/adscore/adsrouter/router"
)

// Handler holds the Router handlers read from and the process start
// time used to render uptime.
type Handler struct {
	rt        *router.Router
	startedAt time.Time
}

func newHandler(rt *router.Router) *Handler {
	return &Handler{rt: rt, startedAt: time.Now()}
}

// HandleHealth answers GET /healthz. It never fails: an empty route/
// connection set is a valid, healthy state for a freshly started
// process.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	conns := h.rt.Connections()
	active := 0
	for _, c := range conns {
		if !c.Closed {
			active++
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:            "ok",
		ConnectionsActive: active,
		Uptime:            time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// HandleRoutes answers GET /routes.
func (h *Handler) HandleRoutes(w http.ResponseWriter, r *http.Request) {
	routes := h.rt.Routes()
	out := make([]RouteResponse, 0, len(routes))
	for _, rt := range routes {
		out = append(out, RouteResponse{NetID: rt.NetId.String(), IP: rt.IP.String()})
	}
	writeJSON(w, http.StatusOK, RoutesResponse{Count: len(out), Routes: out})
}

// HandleConnections answers GET /connections.
func (h *Handler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	conns := h.rt.Connections()
	out := make([]ConnectionResponse, 0, len(conns))
	for _, c := range conns {
		out = append(out, ConnectionResponse{
			IP:          c.IP.String(),
			Closed:      c.Closed,
			PendingReqs: c.PendingReqs,
			RouteRefs:   c.RouteRefs,
			NotifyRefs:  c.NotifyRefs,
		})
	}
	writeJSON(w, http.StatusOK, ConnectionsResponse{Count: len(out), Connections: out})
}

// HandleNotifications answers GET /notifications.
func (h *Handler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	entries := h.rt.Notifications()
	out := make([]NotificationResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, NotificationResponse{
			SourceNetID: e.Source.NetId.String(),
			SourcePort:  uint16(e.Source.Port),
			Handle:      e.Handle,
			Port:        int(e.Port),
		})
	}
	writeJSON(w, http.StatusOK, NotificationsResponse{Count: len(out), Notifications: out})
}

// HandleMetrics answers GET /metrics. It renders the in-memory snapshot
// when the Router was constructed with router.NewInMemoryMetrics, and a
// 400 INVALID_REQUEST error body otherwise — the admin surface has no access to a
// caller-supplied custom Metrics implementation's internals.
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	mem, ok := h.rt.Metrics().(*router.InMemoryMetrics)
	if !ok {
		writeError(w, newInvalidRequestError("router was not constructed with router.NewInMemoryMetrics; no snapshot available"))
		return
	}
	writeJSON(w, http.StatusOK, mem.Snapshot())
}

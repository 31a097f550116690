package adsadmin

import (
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adscore/adsrouter/router"
)

// notificationHub fans every sample the Router's dispatcher delivers
// out to connected operator consoles. It owns no notification
// registrations of its own (Router.Subscribe is read-only — see
// SPEC_FULL.md "adsadmin"); it subscribes once at construction and
// unsubscribes on Close.
type notificationHub struct {
	unsubscribe func()

	mu      sync.Mutex
	clients map[*websocket.Conn]chan notificationPush

	upgrader websocket.Upgrader
}

func newNotificationHub(rt *router.Router) *notificationHub {
	h := &notificationHub{
		clients: make(map[*websocket.Conn]chan notificationPush),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	h.unsubscribe = rt.Subscribe(h.onDeliver)
	return h
}

func (h *notificationHub) Close() {
	h.unsubscribe()
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		close(ch)
		conn.Close()
	}
	h.clients = nil
}

// onDeliver runs on the dispatcher's goroutine (router.DeliveryObserver
// contract); it must never block, so each client gets a small buffered
// channel and a slow reader drops frames rather than stalling delivery
// to everyone else.
func (h *notificationHub) onDeliver(source router.AmsAddr, handle uint32, hdr router.NotificationHeader, data []byte) {
	push := notificationPush{
		SourceNetID: source.NetId.String(),
		SourcePort:  uint16(source.Port),
		Handle:      handle,
		Timestamp:   hdr.Timestamp,
		SampleLen:   hdr.SampleLen,
		DataHex:     hex.EncodeToString(data),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- push:
		default:
		}
	}
}

// HandleWebSocket upgrades the connection and streams pushes until the
// client disconnects. The feed is strictly outbound: any inbound
// message is ignored rather than acted upon, keeping this surface from
// reintroducing a server/command role (spec.md §1 Non-goals).
func (h *notificationHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := make(chan notificationPush, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	go h.drainInbound(conn)

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case push, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(push); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainInbound discards whatever the client sends and closes conn once
// the read errors, which is how the write loop in HandleWebSocket
// notices the client went away.
func (h *notificationHub) drainInbound(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}

package router

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adscore/adsrouter/wire/ads"
	"github.com/adscore/adsrouter/wire/ams"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	r := New(WithLocalNetId(AmsNetId{10, 0, 0, 50, 1, 1}), WithMetrics(NewInMemoryMetrics()))
	t.Cleanup(func() { r.Close() })
	return r
}

// S1: open port, add a route, read from a mock device.
func TestReadSuccess(t *testing.T) {
	dev, ip := newMockDevice(t, nil)
	defer dev.close()

	dev.handler = func(req *ams.Packet) *ams.Packet {
		if ads.CommandID(req.Header.CommandID) != ads.CmdRead {
			return nil
		}
		body := append(encodeU32(0, 4), []byte{0x01, 0x02, 0x03, 0x04}...)
		return replyOK(req, body)
	}

	r := newTestRouter(t)
	port := r.OpenPort()
	if port == 0 {
		t.Fatal("OpenPort returned 0")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.AddRoute(ctx, testNetId, ip); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	data, err := r.Read(ctx, port, AmsAddr{NetId: testNetId, Port: ams.PortPLCRuntime1}, 0x4020, 1, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(data) != 4 || data[0] != 1 || data[3] != 4 {
		t.Fatalf("unexpected data: %v", data)
	}
}

// S3: a read that never gets a reply times out within the configured
// window, and a subsequent read with a generous timeout succeeds.
func TestReadTimeoutThenSuccess(t *testing.T) {
	var allow atomic.Bool
	dev, ip := newMockDevice(t, nil)
	defer dev.close()
	dev.handler = func(req *ams.Packet) *ams.Packet {
		if !allow.Load() {
			return nil // never respond
		}
		body := append(encodeU32(0, 2), []byte{0xAA, 0xBB}...)
		return replyOK(req, body)
	}

	r := newTestRouter(t)
	port := r.OpenPort()
	ctx := context.Background()
	if err := r.AddRoute(ctx, testNetId, ip); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	if err := r.SetTimeout(port, 100*time.Millisecond); err != nil {
		t.Fatalf("SetTimeout: %v", err)
	}

	start := time.Now()
	_, err := r.Read(ctx, port, AmsAddr{NetId: testNetId, Port: 851}, 0x4020, 0, 2)
	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed < 90*time.Millisecond || elapsed > 400*time.Millisecond {
		t.Fatalf("timeout fired outside expected window: %s", elapsed)
	}

	if err := r.SetTimeout(port, 5*time.Second); err != nil {
		t.Fatalf("SetTimeout: %v", err)
	}
	allow.Store(true)
	data, err := r.Read(ctx, port, AmsAddr{NetId: testNetId, Port: 851}, 0x4020, 0, 2)
	if err != nil {
		t.Fatalf("Read after timeout: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("unexpected data length: %d", len(data))
	}
}

// S5: the device closes the socket while a read is pending; the
// pending read observes a transport error, and AddRoute to the same IP
// afterward opens a fresh Connection.
func TestConnectionLossAbortsPendingAndReconnects(t *testing.T) {
	var closeOnce sync.Once
	blockCh := make(chan struct{})
	dev, ip := newMockDevice(t, nil)
	defer dev.close()
	dev.handler = func(req *ams.Packet) *ams.Packet {
		closeOnce.Do(func() {
			go func() {
				dev.closeConn()
				close(blockCh)
			}()
		})
		<-blockCh
		return nil
	}

	r := newTestRouter(t)
	port := r.OpenPort()
	ctx := context.Background()
	if err := r.AddRoute(ctx, testNetId, ip); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	if err := r.SetTimeout(port, 2*time.Second); err != nil {
		t.Fatalf("SetTimeout: %v", err)
	}

	_, err := r.Read(ctx, port, AmsAddr{NetId: testNetId, Port: 851}, 0x4020, 0, 2)
	if err == nil {
		t.Fatal("expected transport error after connection loss")
	}

	// Reconnect opens a fresh Connection to the same IP.
	dev.handler = func(req *ams.Packet) *ams.Packet {
		body := append(encodeU32(0, 1), byte(7))
		return replyOK(req, body)
	}
	if err := r.Reconnect(ctx, testNetId); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	data, err := r.Read(ctx, port, AmsAddr{NetId: testNetId, Port: 851}, 0x4020, 0, 1)
	if err != nil {
		t.Fatalf("Read after reconnect: %v", err)
	}
	if len(data) != 1 || data[0] != 7 {
		t.Fatalf("unexpected data after reconnect: %v", data)
	}
}

// S6: closing a port that owns a notification tells the device to
// delete it, and further samples for that handle are dropped silently.
func TestClosePortRevokesNotifications(t *testing.T) {
	var deleteSeen atomic.Bool
	dev, ip := newMockDevice(t, nil)
	defer dev.close()
	dev.handler = func(req *ams.Packet) *ams.Packet {
		switch ads.CommandID(req.Header.CommandID) {
		case ads.CmdAddDeviceNotification:
			return replyOK(req, encodeU32(0, 42))
		case ads.CmdDelDeviceNotification:
			deleteSeen.Store(true)
			return replyOK(req, encodeU32(0))
		}
		return nil
	}

	r := newTestRouter(t)
	port := r.OpenPort()
	ctx := context.Background()
	if err := r.AddRoute(ctx, testNetId, ip); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	var delivered atomic.Int32
	dest := AmsAddr{NetId: testNetId, Port: 851}
	handle, err := r.AddNotification(ctx, port, dest, 0x4020, 0, NotificationAttributes{Length: 2, TransmissionMode: ads.TransmissionModeServerOnChange}, 99, func(source AmsAddr, hdr NotificationHeader, cookie uint32, data []byte) {
		delivered.Add(1)
	})
	if err != nil {
		t.Fatalf("AddNotification: %v", err)
	}

	if err := r.ClosePort(port); err != nil {
		t.Fatalf("ClosePort: %v", err)
	}
	waitFor(t, time.Second, deleteSeen.Load)

	// A sample for the now-deleted handle must be dropped, not delivered.
	stampBody := encodeDeviceNotification(t, handle, []byte{1, 2})
	notifyPkt := &ams.Packet{
		TCPHeader: ams.TCPHeader{Length: 32 + uint32(len(stampBody))},
		Header: ams.Header{
			TargetNetID: AmsNetId{10, 0, 0, 50, 1, 1},
			TargetPort:  ams.Port(port),
			SourceNetID: testNetId,
			SourcePort:  851,
			CommandID:   uint16(ads.CmdDeviceNotification),
			StateFlags:  ams.StateFlagsTCPResponse,
			DataLength:  uint32(len(stampBody)),
		},
		Data: stampBody,
	}
	if err := dev.sendUnsolicited(notifyPkt); err != nil {
		t.Fatalf("sendUnsolicited: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if delivered.Load() != 0 {
		t.Fatalf("expected 0 deliveries after port close, got %d", delivered.Load())
	}
}

// TestNotificationDelivery exercises the live-handle path: a sample for
// a still-registered handle reaches the callback with its payload.
func TestNotificationDelivery(t *testing.T) {
	dev, ip := newMockDevice(t, nil)
	defer dev.close()
	dev.handler = func(req *ams.Packet) *ams.Packet {
		if ads.CommandID(req.Header.CommandID) == ads.CmdAddDeviceNotification {
			return replyOK(req, encodeU32(0, 7))
		}
		return nil
	}

	r := newTestRouter(t)
	port := r.OpenPort()
	ctx := context.Background()
	if err := r.AddRoute(ctx, testNetId, ip); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	received := make(chan []byte, 1)
	dest := AmsAddr{NetId: testNetId, Port: 851}
	handle, err := r.AddNotification(ctx, port, dest, 0x4020, 0, NotificationAttributes{Length: 2}, 0, func(source AmsAddr, hdr NotificationHeader, cookie uint32, data []byte) {
		cp := append([]byte(nil), data...)
		received <- cp
	})
	if err != nil {
		t.Fatalf("AddNotification: %v", err)
	}

	stampBody := encodeDeviceNotification(t, handle, []byte{9, 9})
	notifyPkt := &ams.Packet{
		TCPHeader: ams.TCPHeader{Length: 32 + uint32(len(stampBody))},
		Header: ams.Header{
			TargetNetID: AmsNetId{10, 0, 0, 50, 1, 1},
			TargetPort:  ams.Port(port),
			SourceNetID: testNetId,
			SourcePort:  851,
			CommandID:   uint16(ads.CmdDeviceNotification),
			StateFlags:  ams.StateFlagsTCPResponse,
			DataLength:  uint32(len(stampBody)),
		},
		Data: stampBody,
	}
	if err := dev.sendUnsolicited(notifyPkt); err != nil {
		t.Fatalf("sendUnsolicited: %v", err)
	}

	select {
	case data := <-received:
		if len(data) != 2 || data[0] != 9 || data[1] != 9 {
			t.Fatalf("unexpected sample: %v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered within 1s")
	}
}

// TestPortExhaustion verifies OpenPort returns 0 once NumPortsMax ports
// are open, and 1 reopens after a close (§8 property 3).
func TestPortExhaustion(t *testing.T) {
	r := newTestRouter(t)
	var ports []LocalPort
	for i := 0; i < NumPortsMax; i++ {
		p := r.OpenPort()
		if p == 0 {
			t.Fatalf("OpenPort failed at index %d", i)
		}
		ports = append(ports, p)
	}
	if p := r.OpenPort(); p != 0 {
		t.Fatalf("expected exhaustion (0), got %d", p)
	}
	if err := r.ClosePort(ports[0]); err != nil {
		t.Fatalf("ClosePort: %v", err)
	}
	if p := r.OpenPort(); p == 0 {
		t.Fatal("expected a reopened port after a close")
	}
}

func encodeDeviceNotification(t *testing.T, handle uint32, data []byte) []byte {
	t.Helper()
	var buf []byte
	buf = append(buf, encodeU32(0)...)    // outer length placeholder, unused by decoder correctness
	buf = append(buf, encodeU32(1)...)    // stamp count
	buf = append(buf, make([]byte, 8)...) // timestamp (zero FILETIME)
	buf = append(buf, encodeU32(1)...)    // sample count
	buf = append(buf, encodeU32(handle)...)
	buf = append(buf, encodeU32(uint32(len(data)))...)
	buf = append(buf, data...)
	return buf
}

package router

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adscore/adsrouter/framebuf"
	"github.com/adscore/adsrouter/wire/ads"
	"github.com/adscore/adsrouter/wire/ams"
)

// slotState is the lifecycle of one PendingSlot (§3 "Invariants" #3,
// §8 property 4). It only ever moves forward; Waiting is the only
// non-terminal value.
type slotState int32

const (
	slotWaiting slotState = iota
	slotCompleted
	slotTimedOut
	slotAborted
)

// pendingSlot is one outstanding request on a Connection. Exactly one
// of the receive loop, the timeout path in wait, or Connection.abortAll
// wins the CAS that moves it out of slotWaiting; everyone else's write
// is a no-op.
type pendingSlot struct {
	invokeID uint32
	port     LocalPort
	owner    *Connection
	state    atomic.Int32
	done     chan struct{}

	mu   sync.Mutex
	resp *ams.Packet
	err  error
}

func newPendingSlot(invokeID uint32, port LocalPort, owner *Connection) *pendingSlot {
	return &pendingSlot{invokeID: invokeID, port: port, owner: owner, done: make(chan struct{})}
}

func (s *pendingSlot) complete(resp *ams.Packet) bool {
	if !s.state.CompareAndSwap(int32(slotWaiting), int32(slotCompleted)) {
		return false
	}
	s.mu.Lock()
	s.resp = resp
	s.mu.Unlock()
	close(s.done)
	return true
}

func (s *pendingSlot) abort(err error) bool {
	if !s.state.CompareAndSwap(int32(slotWaiting), int32(slotAborted)) {
		return false
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
	return true
}

// timeOut marks the slot timed out. Unlike complete/abort it does not
// close done: the caller that owns the timeout path already knows to
// stop waiting and returns directly.
func (s *pendingSlot) timeOut() bool {
	return s.state.CompareAndSwap(int32(slotWaiting), int32(slotTimedOut))
}

// wait blocks until the slot completes, the deadline elapses, or ctx is
// canceled — whichever is first (§8 property 4: timeout fidelity).
func (s *pendingSlot) wait(ctx context.Context, timeout time.Duration) (*ams.Packet, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return nil, s.err
		}
		return s.resp, nil
	case <-timer.C:
		if s.timeOut() {
			s.owner.removeSlot(s.invokeID)
		}
		return nil, errTimeout("await")
	case <-ctx.Done():
		if s.timeOut() {
			s.owner.removeSlot(s.invokeID)
		}
		return nil, ctx.Err()
	}
}

// notifyJob is one decoded-or-raw DEVICE_NOTIFICATION frame en route to
// the dispatcher queue, tagged with the device address it came from.
type notifyJob struct {
	source AmsAddr
	packet *ams.Packet
}

// Connection owns one TCP socket to one remote IPv4 address. Exactly
// one Connection exists per address regardless of how many AmsNetIds
// route to it (§3 "Connection"). It is reference-counted by the Router;
// Connection itself only knows how to send, receive, and shut down —
// ownership and refcounting live in Router so that Connection has no
// back-pointer to it.
type Connection struct {
	ip   IpV4
	conn net.Conn

	sendMu sync.Mutex
	closed atomic.Bool

	invokeID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]*pendingSlot

	notifySink chan<- notifyJob

	routeRefs  atomic.Int32
	notifyRefs atomic.Int32

	logger  Logger
	metrics Metrics

	closeOnce sync.Once
	closeErr  error
}

// dial opens a TCP connection to ip on the ADS well-known port and
// starts its receive loop. notifySink is a non-owning handle to the
// dispatcher's input queue, cloned in at construction — the Connection
// never reaches back into the Router.
func dial(ctx context.Context, ip IpV4, notifySink chan<- notifyJob, logger Logger, metrics Metrics) (*Connection, error) {
	if logger == nil {
		logger = DefaultLogger
	}
	if metrics == nil {
		metrics = DefaultMetrics
	}

	metrics.ConnectionAttempts()

	addr := fmt.Sprintf("%s:%d", ip.String(), AdsPort)
	dialer := &net.Dialer{}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		metrics.ConnectionFailures()
		return nil, errTransportClosed("dial", err)
	}
	if tcpConn, ok := netConn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	metrics.ConnectionSuccesses()

	c := &Connection{
		ip:         ip,
		conn:       netConn,
		pending:    make(map[uint32]*pendingSlot),
		notifySink: notifySink,
		logger:     logger,
		metrics:    metrics,
	}

	go c.receiveLoop()

	return c, nil
}

// Closed reports whether the Connection's socket has already been torn
// down, either by an explicit Close or by a receive-loop failure.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// Close shuts the socket down and aborts every still-waiting pending
// slot. Safe to call more than once and from multiple goroutines.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
		c.abortAll(errTransportClosed("connection", io.EOF))
	})
	return c.closeErr
}

func (c *Connection) abortAll(err error) {
	c.pendingMu.Lock()
	slots := make([]*pendingSlot, 0, len(c.pending))
	for id, s := range c.pending {
		slots = append(slots, s)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	for _, s := range slots {
		s.abort(err)
	}
}

// abortPort aborts every pending slot owned by port, used by
// Router.ClosePort (§5 "Cancellation").
func (c *Connection) abortPort(port LocalPort) {
	c.pendingMu.Lock()
	var matched []*pendingSlot
	for id, s := range c.pending {
		if s.port == port {
			matched = append(matched, s)
			delete(c.pending, id)
		}
	}
	c.pendingMu.Unlock()

	for _, s := range matched {
		s.abort(errInvalidPort("await"))
	}
}

// send allocates a fresh invoke-id, registers the pending slot, and
// writes the framed request. Allocation and registration happen as one
// step under pendingMu so a fast device reply can never arrive before
// the slot exists (DESIGN.md "invoke-id allocation vs slot registration").
func (c *Connection) send(ctx context.Context, port LocalPort, target, source AmsAddr, cmdID ads.CommandID, body []byte) (*pendingSlot, error) {
	if c.closed.Load() {
		return nil, errTransportClosed("send", nil)
	}

	c.pendingMu.Lock()
	invokeID := c.invokeID.Add(1)
	slot := newPendingSlot(invokeID, port, c)
	c.pending[invokeID] = slot
	c.pendingMu.Unlock()

	buf, err := encodeRequestFrame(target, source, cmdID, invokeID, body)
	if err != nil {
		c.removeSlot(invokeID)
		return nil, errInvalidParam("send", err.Error())
	}

	c.sendMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	_, writeErr := c.conn.Write(buf)
	c.sendMu.Unlock()

	if writeErr != nil {
		c.removeSlot(invokeID)
		c.metrics.ConnectionFailures()
		go c.Close()
		return nil, errTransportClosed("send", writeErr)
	}

	c.metrics.BytesSent(int64(len(buf)))
	return slot, nil
}

// encodeRequestFrame builds an outbound frame by encoding the ADS
// command body first, then stacking the AoE header and the AMS/TCP
// header on top of it via framebuf.Buffer.Prepend — the zero-copy
// header-stacking discipline §4.2 specifies, rather than a
// fresh alloc-and-copy per header.
func encodeRequestFrame(target, source AmsAddr, cmdID ads.CommandID, invokeID uint32, body []byte) ([]byte, error) {
	header := ams.Header{
		TargetNetID: target.NetId,
		TargetPort:  target.Port,
		SourceNetID: source.NetId,
		SourcePort:  source.Port,
		CommandID:   uint16(cmdID),
		StateFlags:  ams.StateFlagsTCPRequest,
		DataLength:  uint32(len(body)),
		InvokeID:    invokeID,
	}
	headerBytes, err := header.MarshalBinary()
	if err != nil {
		return nil, err
	}

	frame := framebuf.New()
	frame.Append(body)
	frame.Prepend(headerBytes)

	tcpHeader := ams.TCPHeader{Length: uint32(frame.Remaining())}
	tcpBytes, err := tcpHeader.MarshalBinary()
	if err != nil {
		return nil, err
	}
	frame.Prepend(tcpBytes)

	return frame.Bytes(), nil
}

func (c *Connection) removeSlot(invokeID uint32) {
	c.pendingMu.Lock()
	delete(c.pending, invokeID)
	c.pendingMu.Unlock()
}

// receiveLoop reads exactly one framed packet at a time and dispatches
// it to either the pending-slot table or the notification sink (§4.3).
func (c *Connection) receiveLoop() {
	for {
		packet, err := ams.ReadPacket(c.conn)
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("ads: connection receive failed, shutting down", "ip", c.ip.String(), "err", err)
			}
			c.Close()
			return
		}

		c.metrics.BytesReceived(int64(38 + len(packet.Data)))

		if ads.CommandID(packet.Header.CommandID) == ads.CmdDeviceNotification {
			source := AmsAddr{NetId: packet.Header.SourceNetID, Port: packet.Header.SourcePort}
			select {
			case c.notifySink <- notifyJob{source: source, packet: packet}:
			default:
				c.logger.Warn("ads: notification queue full, dropping frame", "source", source.String())
				c.metrics.NotificationDropped()
			}
			continue
		}

		c.pendingMu.Lock()
		slot, ok := c.pending[packet.Header.InvokeID]
		if ok {
			delete(c.pending, packet.Header.InvokeID)
		}
		c.pendingMu.Unlock()

		if !ok {
			c.logger.Debug("ads: response for unknown or expired invoke-id dropped", "invokeId", packet.Header.InvokeID)
			continue
		}
		slot.complete(packet)
	}
}

// addRouteRef/removeRouteRef track how many AmsNetIds currently route to
// this Connection; addNotifyRef/removeNotifyRef track how many active
// notifications are delivered over it. Router destroys the Connection
// once both counts reach zero (§3 invariant 2).
func (c *Connection) addRouteRef() int32    { return c.routeRefs.Add(1) }
func (c *Connection) removeRouteRef() int32 { return c.routeRefs.Add(-1) }
func (c *Connection) addNotifyRef() int32   { return c.notifyRefs.Add(1) }
func (c *Connection) removeNotifyRef() int32 {
	return c.notifyRefs.Add(-1)
}

func (c *Connection) refCount() int32 {
	return c.routeRefs.Load() + c.notifyRefs.Load()
}

// IP returns the remote address this Connection dials, used by the
// admin surface's /connections endpoint.
func (c *Connection) IP() IpV4 { return c.ip }

// PendingCount reports the number of outstanding requests awaiting a
// response on this Connection.
func (c *Connection) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

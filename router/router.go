package router

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/adscore/adsrouter/wire/ads"
	"github.com/adscore/adsrouter/wire/ams"
)

// DefaultTimeout is the per-port request timeout a freshly opened port
// starts with (§3 "LocalPort").
const DefaultTimeout = 5 * time.Second

// connEntry wraps a Connection so the route/connection map can hold a
// stable slot while acquireConnection dials or replaces it; mutual
// exclusion for that comes from the Router's own mu, not from anything
// on this struct.
type connEntry struct {
	conn *Connection
}

// portState is everything the Router tracks for one open LocalPort.
type portState struct {
	timeout  time.Duration
	localNet AmsNetId
}

// Route describes one AmsNetId -> IpV4 binding, exposed for diagnostics
// (the admin surface lists these).
type Route struct {
	NetId AmsNetId
	IP    IpV4
}

// Router is the process-wide façade: it owns local ports, routes,
// Connections, and the notification dispatcher (§4.4). Construct one
// with New and keep it for the lifetime of the process; there is no
// hidden global singleton.
type Router struct {
	logger  Logger
	metrics Metrics

	dispatcher *dispatcher

	mu          sync.Mutex
	ports       [NumPortsMax]*portState
	routes      map[AmsNetId]IpV4
	connections map[IpV4]*connEntry

	localNetId      AmsNetId
	localNetIdKnown bool
}

// Option configures a Router at construction time.
type Option func(*Router)

// WithLogger sets the Logger every Router/Connection/dispatcher log
// message is routed through.
func WithLogger(l Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMetrics sets the Metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithLocalNetId pins the NetId GetLocalAddress reports instead of
// deriving one from the outbound interface (§6 "Local-address
// derivation").
func WithLocalNetId(id AmsNetId) Option {
	return func(r *Router) {
		r.localNetId = id
		r.localNetIdKnown = true
	}
}

// New constructs a Router. Call Close when the process is shutting down.
func New(opts ...Option) *Router {
	r := &Router{
		logger:      DefaultLogger,
		metrics:     DefaultMetrics,
		routes:      make(map[AmsNetId]IpV4),
		connections: make(map[IpV4]*connEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.dispatcher = newDispatcher(r.logger, r.metrics)
	return r
}

// Close tears down every Connection and stops the dispatcher. The
// Router is unusable afterward.
func (r *Router) Close() error {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, e := range r.connections {
		conns = append(conns, e.conn)
	}
	r.connections = make(map[IpV4]*connEntry)
	r.routes = make(map[AmsNetId]IpV4)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	r.dispatcher.close()
	return nil
}

// --- Port operations (§4.4 "Port operations") ---

// OpenPort allocates the lowest free local port, or 0 if all
// NumPortsMax slots are in use.
func (r *Router) OpenPort() LocalPort {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < NumPortsMax; i++ {
		if r.ports[i] == nil {
			r.ports[i] = &portState{timeout: DefaultTimeout}
			r.metrics.ConnectionsActive(r.activeConnCountLocked())
			return LocalPort(PortBase + i)
		}
	}
	return 0
}

// ClosePort releases port, aborts every in-flight request issued on it,
// and revokes every notification it owns (§8 scenario S6).
func (r *Router) ClosePort(port LocalPort) error {
	idx := port.index()
	if idx < 0 {
		return errInvalidPort("ClosePort")
	}

	r.mu.Lock()
	if r.ports[idx] == nil {
		r.mu.Unlock()
		return errInvalidPort("ClosePort")
	}
	r.ports[idx] = nil
	conns := make([]*Connection, 0, len(r.connections))
	for _, e := range r.connections {
		conns = append(conns, e.conn)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.abortPort(port)
	}

	for _, orph := range r.dispatcher.collectOrphaned(port) {
		r.bestEffortDeleteNotification(orph.Source, orph.Handle)
		r.releaseNotifyRef(orph.Source)
	}

	return nil
}

// releaseNotifyRef drops one notification reference from the Connection
// routing source, destroying it once both refcounts reach zero (§3
// invariant 2). Used by both DelNotification and ClosePort's orphan
// cleanup so a port that closes without explicitly deleting its
// notifications doesn't leak a Connection.
func (r *Router) releaseNotifyRef(source AmsAddr) {
	r.mu.Lock()
	ip, ok := r.routes[source.NetId]
	if !ok {
		r.mu.Unlock()
		return
	}
	e, ok := r.connections[ip]
	r.mu.Unlock()
	if !ok {
		return
	}

	remaining := e.conn.removeNotifyRef()
	destroy := remaining <= 0 && e.conn.refCount() <= 0
	if destroy {
		r.mu.Lock()
		delete(r.connections, ip)
		r.mu.Unlock()
		e.conn.Close()
	}
}

// bestEffortDeleteNotification tells the device to drop a handle whose
// owning port has already closed, swallowing transport errors — the
// local bookkeeping is authoritative regardless of whether the device
// is reachable.
func (r *Router) bestEffortDeleteNotification(source AmsAddr, handle uint32) {
	r.mu.Lock()
	ip, ok := r.routes[source.NetId]
	var conn *Connection
	if ok {
		if e, ok := r.connections[ip]; ok {
			conn = e.conn
		}
	}
	r.mu.Unlock()
	if conn == nil || conn.Closed() {
		return
	}

	req := ads.DeleteDeviceNotificationRequest{NotificationHandle: handle}
	body, err := req.MarshalBinary()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	localAddr, addrErr := r.localAddr()
	if addrErr != nil {
		return
	}
	slot, err := conn.send(ctx, 0, source, localAddr, ads.CmdDelDeviceNotification, body)
	if err != nil {
		return
	}
	_, _ = slot.wait(ctx, DefaultTimeout)
}

// GetLocalAddress returns the AmsAddr a device sees as the source of
// requests issued from port.
func (r *Router) GetLocalAddress(port LocalPort) (AmsAddr, error) {
	idx := port.index()
	if idx < 0 {
		return AmsAddr{}, errInvalidPort("GetLocalAddress")
	}
	r.mu.Lock()
	st := r.ports[idx]
	r.mu.Unlock()
	if st == nil {
		return AmsAddr{}, errInvalidPort("GetLocalAddress")
	}

	netId, err := r.resolveLocalNetId()
	if err != nil {
		return AmsAddr{}, err
	}
	return AmsAddr{NetId: netId, Port: ams.Port(port)}, nil
}

func (r *Router) resolveLocalNetId() (AmsNetId, error) {
	r.mu.Lock()
	if r.localNetIdKnown {
		id := r.localNetId
		r.mu.Unlock()
		return id, nil
	}
	var anyIP IpV4
	for _, ip := range r.routes {
		anyIP = ip
		break
	}
	r.mu.Unlock()

	if anyIP == (IpV4{}) {
		return AmsNetId{}, errInvalidParam("GetLocalAddress", "no route configured to derive a local address from")
	}

	outbound, err := outboundIPFor(anyIP)
	if err != nil {
		return AmsNetId{}, errInvalidParam("GetLocalAddress", err.Error())
	}

	netId := AmsNetId{outbound[0], outbound[1], outbound[2], outbound[3], 1, 1}

	r.mu.Lock()
	r.localNetId = netId
	r.localNetIdKnown = true
	r.mu.Unlock()

	return netId, nil
}

// outboundIPFor discovers the local interface address the kernel would
// pick to reach dest, without sending any traffic (a UDP "connect"
// merely binds a route). This is the standard Go idiom for "what's my
// outbound IP" (DESIGN.md "local address derivation").
func outboundIPFor(dest IpV4) (IpV4, error) {
	var zero IpV4
	conn, err := net.Dial("udp", dest.String()+":48899")
	if err != nil {
		return zero, err
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return zero, errInvalidParam("outboundIPFor", "unexpected local address type")
	}
	v4 := localAddr.IP.To4()
	if v4 == nil {
		return zero, errInvalidParam("outboundIPFor", "outbound address is not IPv4")
	}
	var out IpV4
	copy(out[:], v4)
	return out, nil
}

// localAddr returns the AmsAddr a device sees as a request's source,
// port unset (callers fill in their LocalPort). It takes no destination
// argument because the local NetId is a process-wide value resolved
// once by resolveLocalNetId, not something that varies per remote IP.
func (r *Router) localAddr() (AmsAddr, error) {
	netId, err := r.resolveLocalNetId()
	if err != nil {
		return AmsAddr{}, err
	}
	return AmsAddr{NetId: netId, Port: 0}, nil
}

// GetTimeout returns port's current per-request timeout.
func (r *Router) GetTimeout(port LocalPort) (time.Duration, error) {
	idx := port.index()
	if idx < 0 {
		return 0, errInvalidPort("GetTimeout")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ports[idx]
	if st == nil {
		return 0, errInvalidPort("GetTimeout")
	}
	return st.timeout, nil
}

// SetTimeout changes port's per-request timeout. Per §3 invariant 5,
// requests already in flight keep the timeout they were issued with.
func (r *Router) SetTimeout(port LocalPort, timeout time.Duration) error {
	idx := port.index()
	if idx < 0 {
		return errInvalidPort("SetTimeout")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ports[idx]
	if st == nil {
		return errInvalidPort("SetTimeout")
	}
	st.timeout = timeout
	return nil
}

func (r *Router) activeConnCountLocked() int {
	return len(r.connections)
}

// --- Route operations (§4.4 "Routes") ---

// AddRoute binds netId to ip, dialing a new Connection if ip has none
// yet. Replacing an existing binding drops the old Connection's route
// reference, which may leave it refcount-zero and destroy it. Calling
// AddRoute again with the binding it already holds is a no-op on the
// refcount: the existing route keeps the one reference it already owns
// rather than acquiring a second (§4.4 "Idempotent").
func (r *Router) AddRoute(ctx context.Context, netId AmsNetId, ip IpV4) error {
	r.mu.Lock()
	prevIP, hadRoute := r.routes[netId]
	r.mu.Unlock()

	conn, err := r.acquireConnection(ctx, ip)
	if err != nil {
		return err
	}

	sameBinding := hadRoute && prevIP == ip
	if !sameBinding {
		conn.addRouteRef()
	}

	r.mu.Lock()
	r.routes[netId] = ip
	count := len(r.connections)
	r.mu.Unlock()
	r.metrics.ConnectionsActive(count)

	if hadRoute && prevIP != ip {
		r.releaseRoute(prevIP)
	}
	return nil
}

// DelRoute removes netId's binding, releasing the underlying
// Connection's route reference.
func (r *Router) DelRoute(netId AmsNetId) error {
	r.mu.Lock()
	ip, ok := r.routes[netId]
	if !ok {
		r.mu.Unlock()
		return errNoRoute("DelRoute", netId)
	}
	delete(r.routes, netId)
	r.mu.Unlock()

	r.releaseRoute(ip)
	return nil
}

// Reconnect re-dials ip and rebinds netId to the fresh Connection. It is
// a thin convenience over DelRoute+AddRoute for callers that observed a
// TransportClosed error and want to retry explicitly — there is no
// automatic reconnection policy (§4.3 "Failure").
func (r *Router) Reconnect(ctx context.Context, netId AmsNetId) error {
	r.mu.Lock()
	ip, ok := r.routes[netId]
	if ok {
		delete(r.routes, netId)
	}
	r.mu.Unlock()
	if !ok {
		return errNoRoute("Reconnect", netId)
	}

	r.releaseRoute(ip)
	return r.AddRoute(ctx, netId, ip)
}

// acquireConnection returns the Connection for ip, dialing one if none
// exists yet. The dial itself happens outside the Router lock so a slow
// TCP handshake never blocks unrelated route/port operations.
func (r *Router) acquireConnection(ctx context.Context, ip IpV4) (*Connection, error) {
	r.mu.Lock()
	if e, ok := r.connections[ip]; ok && !e.conn.Closed() {
		r.mu.Unlock()
		return e.conn, nil
	}
	r.mu.Unlock()

	conn, err := dial(ctx, ip, r.dispatcher.sink(), r.logger, r.metrics)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if e, ok := r.connections[ip]; ok {
		if !e.conn.Closed() {
			r.mu.Unlock()
			conn.Close()
			return e.conn, nil
		}
		// e.conn is the Connection being replaced: its socket is gone but
		// its route/notify refcounts may still be live (a route or
		// notification registered against it never got a chance to
		// release its reference before the failure). Carry them onto the
		// replacement before it is installed so later DelRoute/
		// DelNotification/ClosePort calls decrement a count that actually
		// reflects what's still registered, instead of starting the fresh
		// Connection at zero and driving it negative (§3 invariant 2).
		conn.routeRefs.Store(e.conn.routeRefs.Load())
		conn.notifyRefs.Store(e.conn.notifyRefs.Load())
	}
	r.connections[ip] = &connEntry{conn: conn}
	r.mu.Unlock()

	return conn, nil
}

// releaseRoute drops one route reference from ip's Connection and
// destroys it once both refcounts reach zero (§3 invariant 2).
func (r *Router) releaseRoute(ip IpV4) {
	r.mu.Lock()
	e, ok := r.connections[ip]
	if !ok {
		r.mu.Unlock()
		return
	}
	remaining := e.conn.removeRouteRef()
	destroy := remaining <= 0 && e.conn.refCount() <= 0
	if destroy {
		delete(r.connections, ip)
	}
	count := len(r.connections)
	r.mu.Unlock()

	r.metrics.ConnectionsActive(count)
	if destroy {
		e.conn.Close()
	}
}

func (r *Router) connectionFor(netId AmsNetId) (*Connection, IpV4, error) {
	r.mu.Lock()
	ip, ok := r.routes[netId]
	if !ok {
		r.mu.Unlock()
		return nil, IpV4{}, errNoRoute("request", netId)
	}
	e, ok := r.connections[ip]
	r.mu.Unlock()
	if !ok || e.conn.Closed() {
		return nil, ip, errTransportClosed("request", nil)
	}
	return e.conn, ip, nil
}

// Routes returns a snapshot of every current AmsNetId->IpV4 binding,
// used by the admin surface's /routes endpoint.
func (r *Router) Routes() []Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Route, 0, len(r.routes))
	for netId, ip := range r.routes {
		out = append(out, Route{NetId: netId, IP: ip})
	}
	return out
}

// ConnectionInfo is a point-in-time view of one Connection, used by the
// admin surface's /connections endpoint.
type ConnectionInfo struct {
	IP          IpV4
	Closed      bool
	PendingReqs int
	RouteRefs   int32
	NotifyRefs  int32
}

// Connections returns a snapshot of every Connection currently owned by
// the Router, keyed by nothing in particular — order is unspecified.
func (r *Router) Connections() []ConnectionInfo {
	r.mu.Lock()
	entries := make([]*connEntry, 0, len(r.connections))
	for _, e := range r.connections {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]ConnectionInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, ConnectionInfo{
			IP:          e.conn.IP(),
			Closed:      e.conn.Closed(),
			PendingReqs: e.conn.PendingCount(),
			RouteRefs:   e.conn.routeRefs.Load(),
			NotifyRefs:  e.conn.notifyRefs.Load(),
		})
	}
	return out
}

// NotificationInfo describes one registered notification entry, used by
// the admin surface's /notifications endpoint.
type NotificationInfo struct {
	Source AmsAddr
	Handle uint32
	Port   LocalPort
}

// Notifications returns a snapshot of every currently registered
// notification entry across all sources.
func (r *Router) Notifications() []NotificationInfo {
	return r.dispatcher.snapshot()
}

// Metrics exposes the Router's Metrics sink so a caller (the admin
// surface) can render it without threading a second copy through
// construction.
func (r *Router) Metrics() Metrics {
	return r.metrics
}

// Subscribe registers observer to run, on the dispatcher's goroutine,
// after every notification sample successfully delivered to its owning
// callback. It does not register a notification of its own and never
// sees samples for handles nobody has registered — it exists for
// read-only observability surfaces such as the admin websocket feed
// that want to mirror live traffic without taking ownership of it. The
// returned func removes the observer.
func (r *Router) Subscribe(observer DeliveryObserver) func() {
	id := r.dispatcher.addObserver(observer)
	return func() { r.dispatcher.removeObserver(id) }
}

// --- Request operations (§4.4 "Request operations") ---

func (r *Router) timeoutFor(port LocalPort) (time.Duration, error) {
	idx := port.index()
	if idx < 0 {
		return 0, errInvalidPort("request")
	}
	r.mu.Lock()
	st := r.ports[idx]
	r.mu.Unlock()
	if st == nil {
		return 0, errInvalidPort("request")
	}
	return st.timeout, nil
}

// doRequest is the shared plumbing behind every request operation:
// resolve the Connection, send the framed body, wait for a reply under
// the port's timeout-at-issue-time (§3 invariant 5), and hand back the
// raw response payload.
func (r *Router) doRequest(ctx context.Context, port LocalPort, dest AmsAddr, cmdID ads.CommandID, body []byte) ([]byte, error) {
	op := cmdID.String()
	start := time.Now()
	r.metrics.RequestStarted(op)

	data, err := r.doRequestInner(ctx, port, dest, cmdID, body)

	r.metrics.RequestCompleted(op, time.Since(start), err)
	return data, err
}

func (r *Router) doRequestInner(ctx context.Context, port LocalPort, dest AmsAddr, cmdID ads.CommandID, body []byte) ([]byte, error) {
	timeout, err := r.timeoutFor(port)
	if err != nil {
		return nil, err
	}

	conn, _, err := r.connectionFor(dest.NetId)
	if err != nil {
		return nil, err
	}

	local, err := r.localAddr()
	if err != nil {
		return nil, err
	}
	local.Port = ams.Port(port)

	sendCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	slot, err := conn.send(sendCtx, port, dest, local, cmdID, body)
	if err != nil {
		return nil, err
	}

	resp, err := slot.wait(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Read performs an ADS READ of length bytes at (group, offset).
func (r *Router) Read(ctx context.Context, port LocalPort, dest AmsAddr, group, offset, length uint32) ([]byte, error) {
	req := ads.ReadRequest{IndexGroup: group, IndexOffset: offset, Length: length}
	body, err := req.MarshalBinary()
	if err != nil {
		return nil, errInvalidParam("Read", err.Error())
	}
	raw, err := r.doRequest(ctx, port, dest, ads.CmdRead, body)
	if err != nil {
		return nil, err
	}
	var resp ads.ReadResponse
	if err := resp.UnmarshalBinary(raw); err != nil {
		return nil, errDecode("Read", err)
	}
	if ads.Error(resp.Result).IsError() {
		return nil, ads.Error(resp.Result)
	}
	return resp.Data, nil
}

// Write performs an ADS WRITE of data at (group, offset).
func (r *Router) Write(ctx context.Context, port LocalPort, dest AmsAddr, group, offset uint32, data []byte) error {
	req := ads.WriteRequest{IndexGroup: group, IndexOffset: offset, Length: uint32(len(data)), Data: data}
	body, err := req.MarshalBinary()
	if err != nil {
		return errInvalidParam("Write", err.Error())
	}
	raw, err := r.doRequest(ctx, port, dest, ads.CmdWrite, body)
	if err != nil {
		return err
	}
	var resp ads.WriteResponse
	if err := resp.UnmarshalBinary(raw); err != nil {
		return errDecode("Write", err)
	}
	if ads.Error(resp.Result).IsError() {
		return ads.Error(resp.Result)
	}
	return nil
}

// ReadWrite performs an ADS READ_WRITE: writes writeData, returns up to
// readLength bytes in reply.
func (r *Router) ReadWrite(ctx context.Context, port LocalPort, dest AmsAddr, group, offset, readLength uint32, writeData []byte) ([]byte, error) {
	req := ads.ReadWriteRequest{
		IndexGroup:  group,
		IndexOffset: offset,
		ReadLength:  readLength,
		WriteLength: uint32(len(writeData)),
		Data:        writeData,
	}
	body, err := req.MarshalBinary()
	if err != nil {
		return nil, errInvalidParam("ReadWrite", err.Error())
	}
	raw, err := r.doRequest(ctx, port, dest, ads.CmdReadWrite, body)
	if err != nil {
		return nil, err
	}
	var resp ads.ReadWriteResponse
	if err := resp.UnmarshalBinary(raw); err != nil {
		return nil, errDecode("ReadWrite", err)
	}
	if ads.Error(resp.Result).IsError() {
		return nil, ads.Error(resp.Result)
	}
	return resp.Data, nil
}

// ReadState performs an ADS READ_STATE.
func (r *Router) ReadState(ctx context.Context, port LocalPort, dest AmsAddr) (ads.ADSState, uint16, error) {
	req := ads.ReadStateRequest{}
	body, _ := req.MarshalBinary()
	raw, err := r.doRequest(ctx, port, dest, ads.CmdReadState, body)
	if err != nil {
		return 0, 0, err
	}
	var resp ads.ReadStateResponse
	if err := resp.UnmarshalBinary(raw); err != nil {
		return 0, 0, errDecode("ReadState", err)
	}
	if ads.Error(resp.Result).IsError() {
		return 0, 0, ads.Error(resp.Result)
	}
	return resp.ADSState, resp.DeviceState, nil
}

// ReadDeviceInfo performs an ADS READ_DEVICE_INFO.
func (r *Router) ReadDeviceInfo(ctx context.Context, port LocalPort, dest AmsAddr) (ads.ReadDeviceInfoResponse, error) {
	req := ads.ReadDeviceInfoRequest{}
	body, _ := req.MarshalBinary()
	raw, err := r.doRequest(ctx, port, dest, ads.CmdReadDeviceInfo, body)
	if err != nil {
		return ads.ReadDeviceInfoResponse{}, err
	}
	var resp ads.ReadDeviceInfoResponse
	if err := resp.UnmarshalBinary(raw); err != nil {
		return ads.ReadDeviceInfoResponse{}, errDecode("ReadDeviceInfo", err)
	}
	if ads.Error(resp.Result).IsError() {
		return ads.ReadDeviceInfoResponse{}, ads.Error(resp.Result)
	}
	return resp, nil
}

// WriteControl performs an ADS WRITE_CONTROL, requesting a new ADS/device
// state pair.
func (r *Router) WriteControl(ctx context.Context, port LocalPort, dest AmsAddr, state ads.ADSState, deviceState uint16, data []byte) error {
	req := ads.WriteControlRequest{ADSState: state, DeviceState: deviceState, Length: uint32(len(data)), Data: data}
	body, err := req.MarshalBinary()
	if err != nil {
		return errInvalidParam("WriteControl", err.Error())
	}
	raw, err := r.doRequest(ctx, port, dest, ads.CmdWriteControl, body)
	if err != nil {
		return err
	}
	var resp ads.WriteControlResponse
	if err := resp.UnmarshalBinary(raw); err != nil {
		return errDecode("WriteControl", err)
	}
	if ads.Error(resp.Result).IsError() {
		return ads.Error(resp.Result)
	}
	return nil
}

// NotificationAttributes controls how the device triggers a subscribed
// notification (§4.1 AddNotification body).
type NotificationAttributes struct {
	Length           uint32
	TransmissionMode ads.TransmissionMode
	MaxDelay         time.Duration
	CycleTime        time.Duration
}

// AddNotification registers a device-side notification and a local
// callback invoked for every sample delivered against the returned
// handle. The callback runs on the dispatcher's single goroutine (§5).
func (r *Router) AddNotification(ctx context.Context, port LocalPort, dest AmsAddr, group, offset uint32, attrib NotificationAttributes, cookie uint32, cb NotificationCallback) (uint32, error) {
	req := ads.AddDeviceNotificationRequest{
		IndexGroup:       group,
		IndexOffset:      offset,
		Length:           attrib.Length,
		TransmissionMode: attrib.TransmissionMode,
		MaxDelay:         uint32(attrib.MaxDelay / time.Millisecond),
		CycleTime:        uint32(attrib.CycleTime / time.Millisecond),
	}
	body, err := req.MarshalBinary()
	if err != nil {
		return 0, errInvalidParam("AddNotification", err.Error())
	}
	raw, err := r.doRequest(ctx, port, dest, ads.CmdAddDeviceNotification, body)
	if err != nil {
		return 0, err
	}
	var resp ads.AddDeviceNotificationResponse
	if err := resp.UnmarshalBinary(raw); err != nil {
		return 0, errDecode("AddNotification", err)
	}
	if ads.Error(resp.Result).IsError() {
		return 0, ads.Error(resp.Result)
	}

	// Hold r.mu across the mapping insert and the ref bump so a
	// concurrent DelRoute can't see the mapping with no ref behind it
	// (which would later drive releaseNotifyRef negative on ClosePort).
	r.mu.Lock()
	r.dispatcher.createNotifyMapping(dest, resp.NotificationHandle, port, cookie, cb)
	if ip, ok := r.routes[dest.NetId]; ok {
		if e, ok := r.connections[ip]; ok {
			e.conn.addNotifyRef()
		}
	}
	r.mu.Unlock()

	r.metrics.SubscriptionsActive(r.dispatcher.activeCount())
	return resp.NotificationHandle, nil
}

// DelNotification deregisters a notification handle previously returned
// by AddNotification, both locally and on the device.
func (r *Router) DelNotification(ctx context.Context, port LocalPort, dest AmsAddr, handle uint32) error {
	req := ads.DeleteDeviceNotificationRequest{NotificationHandle: handle}
	body, err := req.MarshalBinary()
	if err != nil {
		return errInvalidParam("DelNotification", err.Error())
	}
	raw, err := r.doRequest(ctx, port, dest, ads.CmdDelDeviceNotification, body)
	if err != nil {
		return err
	}
	var resp ads.DeleteDeviceNotificationResponse
	if err := resp.UnmarshalBinary(raw); err != nil {
		return errDecode("DelNotification", err)
	}
	if ads.Error(resp.Result).IsError() {
		return ads.Error(resp.Result)
	}

	r.dispatcher.deleteNotifyMapping(dest, handle)
	r.releaseNotifyRef(dest)

	r.metrics.SubscriptionsActive(r.dispatcher.activeCount())
	return nil
}

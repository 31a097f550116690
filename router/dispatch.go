package router

import (
	"sync"
	"time"

	"github.com/adscore/adsrouter/wire/ads"
)

// NotificationHeader accompanies every sample delivered to a
// NotificationCallback (§6 "Callback ABI").
type NotificationHeader struct {
	Timestamp time.Time
	SampleLen uint32
}

// NotificationCallback receives one decoded sample. It runs on the
// dispatcher's single thread (§5) and must not make blocking Router
// calls on the port it was registered under.
type NotificationCallback func(source AmsAddr, header NotificationHeader, userCookie uint32, data []byte)

type notifyEntry struct {
	port     LocalPort
	source   AmsAddr
	handle   uint32
	cookie   uint32
	callback NotificationCallback
}

// dispatcher owns tableMapping: AmsAddr -> NotifyTable (§4.5), draining
// an MPSC queue of raw notification frames fed by every Connection's
// receive loop and decoding each one as it is taken off the queue. A single goroutine invokes callbacks so
// samples from one source are delivered in wire order (§5 "Ordering",
// §8 property 7) and a slow callback never stalls frame reception
// (§4.3 "Callback dispatch off the receive thread", mandatory).
type dispatcher struct {
	mu     sync.RWMutex
	tables map[AmsAddr]map[uint32]*notifyEntry

	obsMu     sync.RWMutex
	observers map[int]DeliveryObserver
	nextObsID int

	queue chan notifyJob
	stop  chan struct{}

	logger  Logger
	metrics Metrics
}

// DeliveryObserver is invoked, in addition to the registered callback,
// for every sample the dispatcher successfully delivers. It exists for
// read-only observability surfaces (the admin websocket feed) that want
// to mirror live traffic without owning a notification registration of
// their own; see Router.Subscribe.
type DeliveryObserver func(source AmsAddr, handle uint32, header NotificationHeader, data []byte)

func newDispatcher(logger Logger, metrics Metrics) *dispatcher {
	if logger == nil {
		logger = DefaultLogger
	}
	if metrics == nil {
		metrics = DefaultMetrics
	}
	d := &dispatcher{
		tables:    make(map[AmsAddr]map[uint32]*notifyEntry),
		observers: make(map[int]DeliveryObserver),
		queue:     make(chan notifyJob, 256),
		stop:      make(chan struct{}),
		logger:    logger,
		metrics:   metrics,
	}
	go d.run()
	return d
}

// sink is the non-owning handle every Connection is constructed with.
func (d *dispatcher) sink() chan<- notifyJob { return d.queue }

func (d *dispatcher) close() {
	close(d.stop)
}

func (d *dispatcher) run() {
	for {
		select {
		case job := <-d.queue:
			d.deliver(job)
		case <-d.stop:
			return
		}
	}
}

// fileTimeEpoch is the number of 100ns intervals between the Windows
// FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01).
const fileTimeEpoch = 116444736000000000

func filetimeToTime(ft uint64) time.Time {
	unixNano := int64(ft-fileTimeEpoch) * 100
	return time.Unix(0, unixNano).UTC()
}

func (d *dispatcher) deliver(job notifyJob) {
	var req ads.DeviceNotificationRequest
	if err := req.UnmarshalBinary(job.packet.Data); err != nil {
		d.logger.Warn("ads: dropping malformed notification frame", "source", job.source.String(), "err", err)
		return
	}

	for _, stamp := range req.StampHeaders {
		ts := filetimeToTime(stamp.Timestamp)
		for _, sample := range stamp.Samples {
			entry := d.lookup(job.source, sample.NotificationHandle)
			if entry == nil {
				// Device fired after local deletion, or for a source we
				// never registered under — drop silently (§4.5).
				d.metrics.NotificationDropped()
				continue
			}
			d.invoke(entry, ts, sample.Data)
		}
	}
}

func (d *dispatcher) lookup(source AmsAddr, handle uint32) *notifyEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entries, ok := d.tables[source]
	if !ok {
		return nil
	}
	return entries[handle]
}

// invoke runs the user callback, recovering and logging any panic so a
// misbehaving callback can never kill the dispatcher thread (§7).
func (d *dispatcher) invoke(entry *notifyEntry, ts time.Time, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("ads: notification callback panicked", "source", entry.source.String(), "handle", entry.handle, "recovered", r)
		}
	}()

	header := NotificationHeader{Timestamp: ts, SampleLen: uint32(len(data))}
	entry.callback(entry.source, header, entry.cookie, data)
	d.metrics.NotificationDelivered()
	d.notifyObservers(entry.source, entry.handle, header, data)
}

func (d *dispatcher) notifyObservers(source AmsAddr, handle uint32, header NotificationHeader, data []byte) {
	d.obsMu.RLock()
	defer d.obsMu.RUnlock()
	for _, obs := range d.observers {
		obs(source, handle, header, data)
	}
}

// addObserver registers o to run after every successful delivery,
// returning an id for removeObserver.
func (d *dispatcher) addObserver(o DeliveryObserver) int {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	id := d.nextObsID
	d.nextObsID++
	d.observers[id] = o
	return id
}

func (d *dispatcher) removeObserver(id int) {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	delete(d.observers, id)
}

// createNotifyMapping registers a handle returned by ADD_DEVICE_NOTIFICATION.
func (d *dispatcher) createNotifyMapping(source AmsAddr, handle uint32, port LocalPort, cookie uint32, cb NotificationCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, ok := d.tables[source]
	if !ok {
		entries = make(map[uint32]*notifyEntry)
		d.tables[source] = entries
	}
	entries[handle] = &notifyEntry{port: port, source: source, handle: handle, cookie: cookie, callback: cb}
}

// deleteNotifyMapping removes the entry. A dispatch already in flight
// against this entry holds its own pointer copy (obtained under RLock in
// lookup) so it completes normally; no use-after-free, per §3 invariant 4.
func (d *dispatcher) deleteNotifyMapping(source AmsAddr, handle uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, ok := d.tables[source]
	if !ok {
		return false
	}
	if _, ok := entries[handle]; !ok {
		return false
	}
	delete(entries, handle)
	if len(entries) == 0 {
		delete(d.tables, source)
	}
	return true
}

// orphan is one (source, handle) pair a port leaves behind on close.
type orphan struct {
	Source AmsAddr
	Handle uint32
}

// collectOrphaned walks every table and returns, then removes, every
// entry owned by port (§4.5 "Port teardown").
func (d *dispatcher) collectOrphaned(port LocalPort) []orphan {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []orphan
	for source, entries := range d.tables {
		for handle, entry := range entries {
			if entry.port != port {
				continue
			}
			out = append(out, orphan{Source: source, Handle: handle})
			delete(entries, handle)
		}
		if len(entries) == 0 {
			delete(d.tables, source)
		}
	}
	return out
}

// activeCount reports the total number of live notification entries,
// used for the SubscriptionsActive metric and the admin surface.
func (d *dispatcher) activeCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, entries := range d.tables {
		n += len(entries)
	}
	return n
}

// snapshot returns every live notification entry as a Router-facing
// value type, for the admin surface's /notifications endpoint.
func (d *dispatcher) snapshot() []NotificationInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []NotificationInfo
	for source, entries := range d.tables {
		for handle, entry := range entries {
			out = append(out, NotificationInfo{Source: source, Handle: handle, Port: entry.port})
		}
	}
	return out
}

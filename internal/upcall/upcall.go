// Package upcall implements the main-thread-drained notification queue:
// callbacks (on_peer_connected, on_peer_disconnected,
// on_peer_list_changed, on_server_list_changed, data_received,
// on_log_message) are enqueued from network goroutines and drained only
// when the host environment calls Tick, keeping application-visible
// effects off network threads and avoiding re-entrancy into the
// transport.
package upcall

import "sync"

// Kind identifies which upcall a queued Event represents.
type Kind int

const (
	OnConnecting Kind = iota
	OnConnected
	OnDisconnected
	OnPeerConnected
	OnPeerDisconnected
	OnPeerListChanged
	OnServerListChanged
	DataReceived
	OnLogMessage
)

// Event is one queued upcall. Only the fields relevant to Kind are set.
type Event struct {
	Kind     Kind
	PeerID   byte
	ModuleID []byte
	Payload  []byte
	Severity string
	Message  string
}

// Handler receives a drained Event.
type Handler func(Event)

// Queue buffers events pushed from any goroutine until the host calls
// Tick from its own main thread.
type Queue struct {
	mu       sync.Mutex
	pending  []Event
	handlers map[Kind][]Handler
}

// NewQueue creates an empty upcall queue.
func NewQueue() *Queue {
	return &Queue{handlers: make(map[Kind][]Handler)}
}

// On registers a handler for the given upcall kind. Handlers only ever
// run inside Tick, never from the goroutine that called Push.
func (q *Queue) On(kind Kind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = append(q.handlers[kind], h)
}

// Push enqueues an event for the next Tick. Safe to call from any
// goroutine (listener, sender, heartbeat, retransmit timers).
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.mu.Unlock()
}

// Tick drains every event queued since the last call and dispatches it to
// its registered handlers, on the calling goroutine. The host environment
// is expected to call this cooperatively (e.g. once per frame/interval).
func (q *Queue) Tick() {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, e := range batch {
		for _, h := range q.handlers[e.Kind] {
			h(e)
		}
	}
}

package upcall

import "sync"

// ModuleHandler receives data_received payloads for one module_id.
type ModuleHandler func(senderID byte, payload []byte)

// Dispatcher is an application-level convenience layered strictly on top
// of DataReceived: the transport never inspects module_id beyond using it
// as this map's key. Registering per-module handlers here does not change
// what the transport itself delivers; it only routes the single
// data_received upcall to the right application handler.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]ModuleHandler
}

// NewDispatcher creates an empty module dispatcher and wires it to queue
// as a DataReceived handler.
func NewDispatcher(queue *Queue) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]ModuleHandler)}
	queue.On(DataReceived, d.dispatch)
	return d
}

// Register installs h as the handler for moduleID. A later call with the
// same moduleID replaces the previous handler.
func (d *Dispatcher) Register(moduleID []byte, h ModuleHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[string(moduleID)] = h
}

func (d *Dispatcher) dispatch(e Event) {
	d.mu.RLock()
	h, ok := d.handlers[string(e.ModuleID)]
	d.mu.RUnlock()
	if ok {
		h(e.PeerID, e.Payload)
	}
}

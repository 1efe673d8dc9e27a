// Package discovery implements the client-side passive beacon listener:
// a socket bound to the discovery port accepts ServerInformation beacons
// and populates a rolling set keyed by source address, expiring entries
// after server_discovery_timeout since the last beacon.
package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ventosilenzioso/moduled-net-go/internal/upcall"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

// Entry is one known server, as last reported by its beacon.
type Entry struct {
	Addr       *net.UDPAddr
	Info       wire.ServerInformationBody
	LastBeacon time.Time
}

// Set is the client's rolling collection of discovered servers.
type Set struct {
	mu      sync.Mutex
	servers map[string]*Entry
	timeout time.Duration
	queue   *upcall.Queue
}

// NewSet creates an empty discovery set. timeout is server_discovery_timeout.
func NewSet(timeout time.Duration, queue *upcall.Queue) *Set {
	return &Set{servers: make(map[string]*Entry), timeout: timeout, queue: queue}
}

// Servers returns a snapshot of currently known servers.
func (s *Set) Servers() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.servers))
	for _, e := range s.servers {
		out = append(out, *e)
	}
	return out
}

func (s *Set) observe(addr *net.UDPAddr, info wire.ServerInformationBody) {
	key := addr.String()
	s.mu.Lock()
	_, existed := s.servers[key]
	s.servers[key] = &Entry{Addr: addr, Info: info, LastBeacon: time.Now()}
	s.mu.Unlock()

	if !existed {
		s.queue.Push(upcall.Event{Kind: upcall.OnServerListChanged})
	}
}

func (s *Set) sweep() {
	now := time.Now()
	var evicted bool
	s.mu.Lock()
	for key, e := range s.servers {
		if now.Sub(e.LastBeacon) > s.timeout {
			delete(s.servers, key)
			evicted = true
		}
	}
	s.mu.Unlock()

	if evicted {
		s.queue.Push(upcall.Event{Kind: upcall.OnServerListChanged})
	}
}

// Listener drives both the beacon receive loop and the expiry sweep.
type Listener struct {
	port int
	set  *Set
}

// NewListener builds a discovery listener bound to the given UDP port.
func NewListener(port int, set *Set) *Listener {
	return &Listener{port: port, set: set}
}

// Run blocks, receiving beacons and sweeping stale entries, until ctx is
// canceled.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: l.port})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go l.sweepLoop(ctx)

	buf := make([]byte, 65535)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				continue // transient socket error: keep listening
			}
		}
		kind, _, body, err := wire.Classify(buf[:n])
		if err != nil || kind != wire.ServerInformation {
			continue
		}
		info, err := wire.DecodeServerInformationBody(body)
		if err != nil {
			continue
		}
		l.set.observe(addr, info)
	}
}

func (l *Listener) sweepLoop(ctx context.Context) {
	interval := l.set.timeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		l.set.sweep()
	}
}

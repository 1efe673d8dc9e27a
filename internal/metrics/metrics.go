// Package metrics exposes prometheus collectors for the transport-level
// statistics an operator needs to observe: packets sent/received/dropped,
// retransmits, reassembly completions, connected peers, and beacon
// emissions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector this transport updates.
type Metrics struct {
	PacketsSent       *prometheus.CounterVec
	PacketsReceived   *prometheus.CounterVec
	PacketsDropped    *prometheus.CounterVec
	Retransmits       prometheus.Counter
	ChunksReassembled prometheus.Counter
	ConnectedPeers    prometheus.Gauge
	BeaconsSent       prometheus.Counter
}

// New registers and returns a Metrics bundle against reg. Passing a
// fresh *prometheus.Registry (rather than the global default) keeps
// repeated construction in tests from panicking on duplicate
// registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moduledsnet_packets_sent_total",
			Help: "Frames written to the socket, by kind.",
		}, []string{"kind"}),
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moduledsnet_packets_received_total",
			Help: "Frames read from the socket, by kind.",
		}, []string{"kind"}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moduledsnet_packets_dropped_total",
			Help: "Frames dropped at classification (bad CRC, short, unknown type), by reason.",
		}, []string{"reason"}),
		Retransmits: factory.NewCounter(prometheus.CounterOpts{
			Name: "moduledsnet_retransmits_total",
			Help: "Reliable frames retransmitted after a timeout.",
		}),
		ChunksReassembled: factory.NewCounter(prometheus.CounterOpts{
			Name: "moduledsnet_chunks_reassembled_total",
			Help: "Chunked logical packets completed by the reassembler.",
		}),
		ConnectedPeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "moduledsnet_connected_peers",
			Help: "Currently connected peer count.",
		}),
		BeaconsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "moduledsnet_beacons_sent_total",
			Help: "ServerInformation discovery beacons broadcast.",
		}),
	}
}

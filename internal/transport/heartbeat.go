package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/ventosilenzioso/moduled-net-go/internal/config"
	"github.com/ventosilenzioso/moduled-net-go/internal/metrics"
	"github.com/ventosilenzioso/moduled-net-go/internal/peer"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

// broadcastListenConfig sets SO_BROADCAST and SO_REUSEADDR on the
// heartbeat socket, which is bound separately from the data socket.
var broadcastListenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// heartbeat broadcasts a ServerInformation beacon on a dedicated socket
// bound with broadcast enabled, paced with a rate.Limiter.
type heartbeat struct {
	cfg      config.Config
	registry *peer.Registry
	metrics  *metrics.Metrics
}

func newHeartbeat(cfg config.Config, registry *peer.Registry, m *metrics.Metrics) *heartbeat {
	return &heartbeat{cfg: cfg, registry: registry, metrics: m}
}

func (h *heartbeat) run(ctx context.Context) error {
	broadcastAddr := &net.UDPAddr{IP: net.IPv4bcast, Port: h.cfg.DiscoveryPort}
	packetConn, err := broadcastListenConfig.ListenPacket(ctx, "udp4", "0.0.0.0:0")
	if err != nil {
		return fmt.Errorf("transport: binding heartbeat socket: %w", err)
	}
	conn := packetConn.(*net.UDPConn)
	defer conn.Close()

	interval := h.cfg.HeartbeatDelay()
	if interval <= 0 {
		return nil
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		body := wire.ServerInformationBody{
			ServerName:   h.cfg.ServerName,
			MaxClients:   byte(h.cfg.MaxClients),
			CurrentCount: byte(h.registry.Len() + 1), // +1 counts the server itself
		}.Encode()
		frame := wire.Encode(wire.ServerInformation, false, body)
		if _, err := conn.WriteToUDP(frame, broadcastAddr); err != nil {
			continue // transient socket error: keep beaconing
		}
		if h.metrics != nil {
			h.metrics.BeaconsSent.Inc()
		}
	}
}

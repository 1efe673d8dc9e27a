// Command moduledctl runs either the session host (server) or a joining
// peer (client) side of the transport, wiring config, logging, metrics,
// and the upcall queue together behind cobra subcommands.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ventosilenzioso/moduled-net-go/internal/config"
	"github.com/ventosilenzioso/moduled-net-go/internal/discovery"
	"github.com/ventosilenzioso/moduled-net-go/internal/logging"
	"github.com/ventosilenzioso/moduled-net-go/internal/metrics"
	"github.com/ventosilenzioso/moduled-net-go/internal/transport"
	"github.com/ventosilenzioso/moduled-net-go/internal/upcall"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

const version = "1.0.0"

var (
	configPath  string
	metricsAddr string

	flagPort          int
	flagDiscoveryPort int
	flagMTU           int
	flagMaxClients    int
	flagDebug         bool
)

func main() {
	root := &cobra.Command{
		Use:   "moduledctl",
		Short: "Run a moduled-net session host or a joining peer",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	root.PersistentFlags().IntVar(&flagPort, "port", 0, "UDP data port (overrides config)")
	root.PersistentFlags().IntVar(&flagDiscoveryPort, "discovery-port", 0, "UDP discovery port (overrides config)")
	root.PersistentFlags().IntVar(&flagMTU, "mtu", 0, "single-frame payload ceiling in bytes (overrides config)")
	root.PersistentFlags().IntVar(&flagMaxClients, "max-clients", 0, "connected-peer cap (overrides config)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug tracing (overrides config)")

	root.AddCommand(newServerCmd())
	root.AddCommand(newClientCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Host a session, accepting connections and relaying data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd)
		},
	}
}

func newClientCmd() *cobra.Command {
	var serverAddr string
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Join a session hosted elsewhere",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverAddr == "" {
				return fmt.Errorf("moduledctl client: --server is required")
			}
			return runClient(cmd, serverAddr)
		},
	}
	cmd.Flags().StringVar(&serverAddr, "server", "", "address of the server to join (host:port)")
	return cmd
}

// loadConfig layers the YAML file and environment via config.Load, then
// applies any flags the caller set explicitly; flags win.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.Context(), configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = flagPort
	}
	if flags.Changed("discovery-port") {
		cfg.DiscoveryPort = flagDiscoveryPort
	}
	if flags.Changed("mtu") {
		cfg.MTU = flagMTU
	}
	if flags.Changed("max-clients") {
		cfg.MaxClients = flagMaxClients
	}
	if flags.Changed("debug") {
		cfg.Debug = flagDebug
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	queue := upcall.NewQueue()
	log := logging.New(queue, cfg.Debug)
	log.Banner("moduled-net-go server", version)
	log.Section("startup")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	upcall.NewDispatcher(queue)
	queue.On(upcall.OnLogMessage, func(e upcall.Event) {}) // reserved for host-side subscription
	queue.On(upcall.OnPeerConnected, func(e upcall.Event) { log.Success("peer %d connected", e.PeerID) })
	queue.On(upcall.OnPeerDisconnected, func(e upcall.Event) { log.Info("peer %d disconnected", e.PeerID) })

	srv, err := transport.NewServer(cfg, queue, log, m)
	if err != nil {
		return err
	}
	log.Info("listening on %s", srv.LocalAddr())
	log.Info("server name: %s, max clients: %d", cfg.ServerName, cfg.MaxClients)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return runMetricsServer(ctx, reg) })
	g.Go(func() error { return tickLoop(ctx, queue) })

	err = g.Wait()
	return shutdownResult(log, err)
}

func runClient(cmd *cobra.Command, serverAddr string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return fmt.Errorf("moduledctl client: resolving %s: %w", serverAddr, err)
	}

	queue := upcall.NewQueue()
	log := logging.New(queue, cfg.Debug)
	log.Banner("moduled-net-go client", version)
	log.Section("startup")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	upcall.NewDispatcher(queue)
	queue.On(upcall.OnConnected, func(e upcall.Event) { log.Success("connected, assigned peer id %d", e.PeerID) })
	queue.On(upcall.OnDisconnected, func(e upcall.Event) { log.Warn("disconnected from server") })
	queue.On(upcall.OnPeerListChanged, func(e upcall.Event) { log.Debug("peer list changed") })
	queue.On(upcall.OnServerListChanged, func(e upcall.Event) { log.Debug("discovered server list changed") })

	color := wire.Color{R: cfg.ColorR, G: cfg.ColorG, B: cfg.ColorB, A: cfg.ColorA}
	c, err := transport.NewClient(cfg, cfg.Username, color, queue, log, m)
	if err != nil {
		return err
	}

	discoverySet := discovery.NewSet(cfg.DiscoveryTimeout(), queue)
	discoveryListener := discovery.NewListener(cfg.DiscoveryPort, discoverySet)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(ctx) })
	g.Go(func() error { return discoveryListener.Run(ctx) })
	g.Go(func() error { return runMetricsServer(ctx, reg) })
	g.Go(func() error { return tickLoop(ctx, queue) })
	g.Go(func() error {
		c.Connect(addr)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		c.Disconnect()
		return nil
	})

	err = g.Wait()
	return shutdownResult(log, err)
}

// tickLoop drains the upcall queue on a fixed cadence, standing in for
// the host environment's own per-frame Tick call when moduledctl runs
// headless.
func tickLoop(ctx context.Context, queue *upcall.Queue) error {
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			queue.Tick()
		}
	}
}

func runMetricsServer(ctx context.Context, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("moduledctl: metrics server: %w", err)
		}
		return nil
	}
}

// shutdownResult folds a cooperative-shutdown errgroup result into a
// single error, treating context cancellation (the normal Ctrl-C path)
// as success rather than failure.
func shutdownResult(log *logging.Logger, err error) error {
	if err == nil || err == context.Canceled {
		log.Success("shut down cleanly")
		return nil
	}

	var result *multierror.Error
	result = multierror.Append(result, err)
	log.Error("shutdown error: %v", result)
	return result.ErrorOrNil()
}

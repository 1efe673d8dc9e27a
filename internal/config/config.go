// Package config loads the transport's tunables, layering defaults, an
// optional YAML file, and environment variables, and validates them at
// startup.
package config

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"
	"unicode"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable the transport exposes.
type Config struct {
	Username                string `yaml:"username" env:"MODULEDNET_USERNAME,default=player"`
	ColorR                  byte   `yaml:"color_r" env:"MODULEDNET_COLOR_R,default=255"`
	ColorG                  byte   `yaml:"color_g" env:"MODULEDNET_COLOR_G,default=255"`
	ColorB                  byte   `yaml:"color_b" env:"MODULEDNET_COLOR_B,default=255"`
	ColorA                  byte   `yaml:"color_a" env:"MODULEDNET_COLOR_A,default=255"`
	ReconnectAfterRecompile bool   `yaml:"reconnect_after_recompile" env:"MODULEDNET_RECONNECT_AFTER_RECOMPILE,default=false"`

	Port          int `yaml:"port" env:"MODULEDNET_PORT,default=7777"`
	DiscoveryPort int `yaml:"discovery_port" env:"MODULEDNET_DISCOVERY_PORT,default=7778"`

	ServerConnectionTimeoutMS int `yaml:"server_connection_timeout" env:"MODULEDNET_SERVER_CONNECTION_TIMEOUT,default=10000"`
	ServerHeartbeatDelayMS    int `yaml:"server_heartbeat_delay" env:"MODULEDNET_SERVER_HEARTBEAT_DELAY,default=1000"`
	ServerDiscoveryTimeoutMS  int `yaml:"server_discovery_timeout" env:"MODULEDNET_SERVER_DISCOVERY_TIMEOUT,default=5000"`

	MaxResendReliablePackets int `yaml:"max_resend_reliable_packets" env:"MODULEDNET_MAX_RESEND_RELIABLE_PACKETS,default=5"`
	RTTMillis                int `yaml:"rtt" env:"MODULEDNET_RTT,default=100"`

	MTU int `yaml:"mtu" env:"MODULEDNET_MTU,default=1024"`

	MaxClients      int  `yaml:"max_clients" env:"MODULEDNET_MAX_CLIENTS,default=32"`
	AllowVirtualIPs bool `yaml:"allow_virtual_ips" env:"MODULEDNET_ALLOW_VIRTUAL_IPS,default=false"`

	Debug bool `yaml:"debug" env:"MODULEDNET_DEBUG,default=false"`

	ServerName string `yaml:"server_name" env:"MODULEDNET_SERVER_NAME,default=moduled-net server"`
}

// RTT returns the configured round-trip-time estimate as a Duration.
func (c Config) RTT() time.Duration { return time.Duration(c.RTTMillis) * time.Millisecond }

// HeartbeatDelay returns the beacon interval as a Duration.
func (c Config) HeartbeatDelay() time.Duration {
	return time.Duration(c.ServerHeartbeatDelayMS) * time.Millisecond
}

// DiscoveryTimeout returns the beacon staleness window as a Duration.
func (c Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.ServerDiscoveryTimeoutMS) * time.Millisecond
}

// ConnectionTimeout returns the idle-peer timeout as a Duration.
func (c Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ServerConnectionTimeoutMS) * time.Millisecond
}

// Load builds a Config from defaults, optionally overlaid by the YAML
// file at path (skipped if path is empty or does not exist), then
// overlaid by environment variables.
func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: applying environment: %w", err)
	}

	return cfg, nil
}

// Validate checks the session-start requirements: the local IP must
// belong to an UP interface, and (unless AllowVirtualIPs) that interface
// must have a default gateway; username/servername must be ASCII and at
// most 100 bytes.
func (c Config) Validate() error {
	if err := validateText("username", c.Username); err != nil {
		return err
	}
	if err := validateText("server_name", c.ServerName); err != nil {
		return err
	}
	if err := validateLocalInterface(c.AllowVirtualIPs); err != nil {
		return err
	}
	return nil
}

func validateText(field, value string) error {
	if len(value) > 100 {
		return fmt.Errorf("config: %s exceeds 100 bytes", field)
	}
	for _, r := range value {
		if r > unicode.MaxASCII {
			return fmt.Errorf("config: %s must be pure ASCII", field)
		}
	}
	return nil
}

func validateLocalInterface(allowVirtual bool) error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("config: listing network interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		if allowVirtual {
			return nil
		}
		// A default gateway implies the interface is not a purely virtual
		// adapter (container bridge, VPN tunnel with no uplink, etc).
		if hasDefaultGateway(iface.Name) {
			return nil
		}
	}

	if allowVirtual {
		return nil
	}
	return fmt.Errorf("config: no UP interface with a default gateway found (set allow_virtual_ips to skip this check)")
}

// hasDefaultGateway is a best-effort check; exact gateway detection is
// platform-specific, so an interface holding any non-loopback address is
// treated as routable.
func hasDefaultGateway(ifaceName string) bool {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return false
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if ok && !ipNet.IP.IsLoopback() {
			return true
		}
	}
	return false
}

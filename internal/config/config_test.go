package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 7777, cfg.Port)
	require.Equal(t, 7778, cfg.DiscoveryPort)
	require.Equal(t, 32, cfg.MaxClients)
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("MODULEDNET_PORT", "9001")
	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 9001, cfg.Port)
}

func TestValidateRejectsOversizedUsername(t *testing.T) {
	cfg := Config{AllowVirtualIPs: true}
	for i := 0; i < 101; i++ {
		cfg.Username += "a"
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsNonASCIIServerName(t *testing.T) {
	cfg := Config{AllowVirtualIPs: true, ServerName: "café"}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidatePassesWithVirtualIPsAllowed(t *testing.T) {
	cfg := Config{AllowVirtualIPs: true, Username: "a", ServerName: "s"}
	require.NoError(t, cfg.Validate())
}

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aquamon/aquamon/config"
	"github.com/aquamon/aquamon/internal/iso"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg, err := config.Load("", "")
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
	require.Equal(t, 10, cfg.Readings.BootstrapLimit)
	require.Equal(t, iso.Duration(30*time.Second), cfg.Commands.Timeout)
}

func TestYAML(t *testing.T) {
	path := write(t, "aquamon.yaml", `
relay:
  host: relay.local
  port: 1884
readings:
  capacity: 0
commands:
  timeout: PT45S
  tokens: [fill, drain, flush]
device:
  ack_delay: 250ms
`)

	cfg, err := config.Load(path, "")
	require.NoError(t, err)
	require.Equal(t, "relay.local", cfg.Relay.Host)
	require.Equal(t, 1884, cfg.Relay.Port)
	require.Equal(t, 0, cfg.Readings.Capacity)
	require.Equal(t, 10, cfg.Readings.BootstrapLimit)
	require.Equal(t, iso.Duration(45*time.Second), cfg.Commands.Timeout)
	require.Equal(t, []string{"fill", "drain", "flush"}, cfg.Commands.Tokens)
	require.Equal(t, iso.Duration(250*time.Millisecond), cfg.Device.AckDelay)
}

func TestEnvOverrides(t *testing.T) {
	path := write(t, "aquamon.yaml", "relay:\n  host: from-yaml\n")
	dotenv := write(t, ".env", "AQUAMON_RELAY_CLIENT_ID=from-dotenv\n")

	t.Setenv("AQUAMON_RELAY_HOST", "from-env")
	t.Setenv("AQUAMON_COMMANDS_TIMEOUT", "PT2M")
	t.Setenv("AQUAMON_COMMANDS_TOKENS", "fill, drain ,")
	t.Setenv("AQUAMON_READINGS_BOOTSTRAP_LIMIT", "25")
	t.Setenv("AQUAMON_HTTP_LISTEN", ":9090")
	// godotenv does not override variables that are already set; make sure
	// the one it loads is cleaned up afterwards.
	t.Setenv("AQUAMON_RELAY_CLIENT_ID", "")
	require.NoError(t, os.Unsetenv("AQUAMON_RELAY_CLIENT_ID"))

	cfg, err := config.Load(path, dotenv)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Relay.Host)
	require.Equal(t, "from-dotenv", cfg.Relay.ClientID)
	require.Equal(t, iso.Duration(2*time.Minute), cfg.Commands.Timeout)
	require.Equal(t, []string{"fill", "drain"}, cfg.Commands.Tokens)
	require.Equal(t, 25, cfg.Readings.BootstrapLimit)
	require.Equal(t, ":9090", cfg.HTTP.Listen)
}

func TestEnvName(t *testing.T) {
	require.Equal(t, "AQUAMON_RELAY_CLIENT_ID", config.EnvName("Relay", "ClientID"))
	require.Equal(t, "AQUAMON_DEVICE_ACK_DELAY", config.EnvName("Device", "AckDelay"))
	require.Equal(t, "AQUAMON_HTTP_LISTEN", config.EnvName("HTTP", "Listen"))
}

func TestApplyEnvErrors(t *testing.T) {
	cfg := config.Default()
	err := config.ApplyEnv(&cfg, func(name string) (string, bool) {
		return "soon", name == "AQUAMON_COMMANDS_TIMEOUT"
	})
	require.ErrorContains(t, err, "AQUAMON_COMMANDS_TIMEOUT")

	err = config.ApplyEnv(&cfg, func(name string) (string, bool) {
		return "many", name == "AQUAMON_RELAY_PORT"
	})
	require.ErrorContains(t, err, "AQUAMON_RELAY_PORT")
}

func TestMissingFiles(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "none.yaml"), "")
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = config.Load("", filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Relay.Port = 0
	cfg.Commands.Tokens = []string{"fill", "ack"}
	cfg.Commands.Timeout = iso.Duration(-time.Second)

	err := cfg.Validate()
	require.ErrorContains(t, err, "relay port 0")
	require.ErrorContains(t, err, `"ack"`)
	require.ErrorContains(t, err, "timeout is negative")

	path := write(t, "bad.yaml", "readings:\n  capacity: -1\n")
	_, err = config.Load(path, "")
	require.ErrorContains(t, err, "capacity is negative")
}

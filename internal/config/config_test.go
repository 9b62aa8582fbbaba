package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, DefaultSignalURL, cfg.SignalURL)
	assert.Equal(t, DefaultRedisAddr, cfg.Redis.Addr)
	assert.Equal(t, DefaultPrefix, cfg.Redis.Prefix)
	assert.Equal(t, DefaultDateFormat, cfg.DateFormat)
	assert.Equal(t, DefaultTimeout, cfg.CallTimeout)
	assert.Equal(t, []string{DefaultSTUN}, cfg.GetSTUNServers())
	assert.Nil(t, cfg.GetTURNServers())
	assert.False(t, cfg.RelayOnly())
}

func TestLoad_Priority(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := "signal:\n  url: ws://file/ws\nredis:\n  addr: file:6379\ncall:\n  timeout: 3s\nice:\n  turn: relay.example.org\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roomline.yaml"), []byte(yaml), 0o644))

	t.Setenv("ROOMLINE_REDIS_ADDR", "env:6379")
	t.Setenv("TURN_USERNAME", "legacy-user")

	cfg, err := Load(Options{SignalURL: "ws://flag/ws"})
	require.NoError(t, err)

	assert.Equal(t, "ws://flag/ws", cfg.SignalURL)
	assert.Equal(t, "env:6379", cfg.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.CallTimeout)

	user, _ := cfg.GetTURNCredentials()
	assert.Equal(t, "legacy-user", user)
	assert.Equal(t, []string{
		"turn:relay.example.org:3478?transport=udp",
		"turn:relay.example.org:3478?transport=tcp",
		"turns:relay.example.org:5349?transport=tcp",
	}, cfg.GetTURNServers())
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestRestrictive(t *testing.T) {
	cgnat := &net.IPNet{IP: net.ParseIP("100.72.1.9"), Mask: net.CIDRMask(10, 32)}
	lan := &net.IPNet{IP: net.ParseIP("192.168.1.4"), Mask: net.CIDRMask(24, 32)}

	assert.True(t, restrictive("wg0", nil))
	assert.True(t, restrictive("CloudflareWARP", nil))
	assert.True(t, restrictive("eth0", []net.Addr{lan, cgnat}))
	assert.False(t, restrictive("eth0", []net.Addr{lan}))
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults
const (
	DefaultSignalURL  = "ws://localhost:8080/ws"
	DefaultServerAddr = ":8080"
	DefaultRedisAddr  = "localhost:6379"
	DefaultPrefix     = "roomline"
	DefaultSTUN       = "stun:stun.l.google.com:19302"
	DefaultIssuer     = "roomline"
	DefaultDateFormat = "01月02日15:04"
	DefaultTimeout    = 15 * time.Second
)

// Config holds application configuration
type Config struct {
	SignalURL  string
	ServerAddr string

	Redis RedisConfig

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	Secret string
	Issuer string
	Token  string

	StatePath string

	Camera     string
	Microphone string
	Display    string

	CallTimeout time.Duration
	DateFormat  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Options carries CLI flag overrides. Empty fields are ignored.
type Options struct {
	ConfigFile string
	SignalURL  string
	ServerAddr string
	RedisAddr  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	Token      string
	StatePath  string
	Camera     string
	Microphone string
	Display    string
	ForceRelay bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options)
// 2. Environment variables (ROOMLINE_*, plus the legacy ICE names)
// 3. roomline.yaml
// 4. Defaults
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ROOMLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ice.stun", "ROOMLINE_ICE_STUN", "STUN_SERVER")
	_ = v.BindEnv("ice.turn", "ROOMLINE_ICE_TURN", "TURN_SERVER")
	_ = v.BindEnv("ice.turn_user", "ROOMLINE_ICE_TURN_USER", "TURN_USERNAME")
	_ = v.BindEnv("ice.turn_pass", "ROOMLINE_ICE_TURN_PASS", "TURN_PASSWORD")

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("roomline")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "roomline"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	override(v, "signal.url", opts.SignalURL)
	override(v, "server.addr", opts.ServerAddr)
	override(v, "redis.addr", opts.RedisAddr)
	override(v, "ice.stun", opts.STUNServer)
	override(v, "ice.turn", opts.TURNServer)
	override(v, "ice.turn_user", opts.TURNUser)
	override(v, "ice.turn_pass", opts.TURNPass)
	override(v, "identity.token", opts.Token)
	override(v, "state.path", opts.StatePath)
	override(v, "media.camera", opts.Camera)
	override(v, "media.microphone", opts.Microphone)
	override(v, "media.display", opts.Display)
	if opts.ForceRelay {
		v.Set("ice.relay", true)
	}

	timeout := v.GetDuration("call.timeout")
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Config{
		SignalURL:  v.GetString("signal.url"),
		ServerAddr: v.GetString("server.addr"),
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		STUNServer:  v.GetString("ice.stun"),
		TURNServer:  v.GetString("ice.turn"),
		TURNUser:    v.GetString("ice.turn_user"),
		TURNPass:    v.GetString("ice.turn_pass"),
		ForceRelay:  v.GetBool("ice.relay"),
		Secret:      v.GetString("identity.secret"),
		Issuer:      v.GetString("identity.issuer"),
		Token:       v.GetString("identity.token"),
		StatePath:   v.GetString("state.path"),
		Camera:      v.GetString("media.camera"),
		Microphone:  v.GetString("media.microphone"),
		Display:     v.GetString("media.display"),
		CallTimeout: timeout,
		DateFormat:  v.GetString("chat.date_format"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("signal.url", DefaultSignalURL)
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("redis.addr", DefaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", DefaultPrefix)
	v.SetDefault("ice.stun", DefaultSTUN)
	v.SetDefault("ice.turn", "")
	v.SetDefault("ice.turn_user", "")
	v.SetDefault("ice.turn_pass", "")
	v.SetDefault("ice.relay", false)
	v.SetDefault("identity.secret", "")
	v.SetDefault("identity.issuer", DefaultIssuer)
	v.SetDefault("identity.token", "")
	v.SetDefault("state.path", defaultStatePath())
	v.SetDefault("media.camera", "camera.ivf")
	v.SetDefault("media.microphone", "microphone.ogg")
	v.SetDefault("media.display", "display.ivf")
	v.SetDefault("call.timeout", DefaultTimeout.String())
	v.SetDefault("chat.date_format", DefaultDateFormat)
}

func override(v *viper.Viper, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "roomline-state.msgpack"
	}
	return filepath.Join(dir, "roomline", "state.msgpack")
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// RelayOnly reports whether peer connections should be restricted to TURN.
func (c *Config) RelayOnly() bool {
	if c.TURNServer == "" {
		return false
	}
	return c.ForceRelay || ShouldForceRelay()
}

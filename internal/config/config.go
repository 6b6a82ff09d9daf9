// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the pktlink command's TOML configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/luxfi/pktlink"
)

const (
	EnvPeerAddress = "PKTLINK_PEER_ADDRESS"
	EnvLogLevel    = "PKTLINK_LOG_LEVEL"
	EnvLogFormat   = "PKTLINK_LOG_FORMAT"
)

// Duration is a time.Duration written as a string such as "250ms".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Peer    PeerConfig    `toml:"peer"`
	Server  ServerConfig  `toml:"server"`
	Gateway GatewayConfig `toml:"gateway"`
	Log     LogConfig     `toml:"log"`
}

// PeerConfig describes the link the gateway and the call/watch commands
// dial.
type PeerConfig struct {
	Address        string   `toml:"address"`
	Transport      string   `toml:"transport"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	CallTimeout    Duration `toml:"call_timeout"`
	WriteTimeout   Duration `toml:"write_timeout"`
	MaxFrameSize   int      `toml:"max_frame_size"`
}

type ServerConfig struct {
	Listen string `toml:"listen"`
	// WebSocket, when set, serves the link over HTTP at this address too.
	WebSocket string `toml:"websocket"`
}

type GatewayConfig struct {
	HTTPListen string `toml:"http_listen"`
	GRPCListen string `toml:"grpc_listen"`
}

type LogConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	Timestamp bool   `toml:"timestamp"`
}

func Default() Config {
	return Config{
		Peer: PeerConfig{
			Address:        "127.0.0.1:8700",
			ConnectTimeout: Duration(pktlink.DefaultConnectTimeout),
			CallTimeout:    Duration(pktlink.DefaultCallTimeout),
			MaxFrameSize:   pktlink.DefaultMaxFrameSize,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8700",
		},
		Gateway: GatewayConfig{
			HTTPListen: "127.0.0.1:8780",
			GRPCListen: "127.0.0.1:8790",
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "console",
			Timestamp: true,
		},
	}
}

// Load reads path over Default and applies environment overrides. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse is Load for an in-memory document.
func Parse(data string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvPeerAddress)); v != "" {
		cfg.Peer.Address = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Log.Format = v
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Peer.Address) == "" {
		return fmt.Errorf("config: peer address is required")
	}
	if c.Peer.Transport != "" && !pktlink.HasTransport(c.Peer.Transport) {
		return fmt.Errorf("config: %w: %q", pktlink.ErrUnknownTransport, c.Peer.Transport)
	}
	for name, d := range map[string]Duration{
		"connect_timeout": c.Peer.ConnectTimeout,
		"call_timeout":    c.Peer.CallTimeout,
		"write_timeout":   c.Peer.WriteTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("config: peer %s must not be negative", name)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("config: log format %q is not console or json", c.Log.Format)
	}
	return nil
}

// PeerAddress returns the peer address with the configured transport
// applied when the address has no scheme of its own.
func (c Config) PeerAddress() string {
	if c.Peer.Transport == "" || strings.Contains(c.Peer.Address, "://") {
		return c.Peer.Address
	}
	return c.Peer.Transport + "://" + c.Peer.Address
}

// LinkOptions turns the peer section into connection options.
func (c Config) LinkOptions() []pktlink.Option {
	return []pktlink.Option{
		pktlink.WithConnectTimeout(c.Peer.ConnectTimeout.Std()),
		pktlink.WithCallTimeout(c.Peer.CallTimeout.Std()),
		pktlink.WithWriteTimeout(c.Peer.WriteTimeout.Std()),
		pktlink.WithMaxFrameSize(c.Peer.MaxFrameSize),
	}
}

// String renders c as TOML.
func (c Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "# " + strconv.Quote(err.Error())
	}
	return b.String()
}

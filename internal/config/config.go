// Package config holds the environment-driven configuration for the call
// client and the development relay.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pion/webrtc/v4"

	"github.com/duocall/duocall/internal/logging"
)

// Config is populated from DUOCALL_* environment variables. Static
// configuration only: nothing in here is negotiated with the counterpart.
type Config struct {
	// RelayURL is the base URL of the signaling relay (ws, wss, http, https).
	RelayURL string `env:"DUOCALL_RELAY_URL" env-default:"ws://127.0.0.1:8820"`
	// RelayListenAddr is where `duocall relay` listens.
	RelayListenAddr string `env:"DUOCALL_RELAY_LISTEN_ADDR" env-default:"127.0.0.1:8820"`

	LogLevel  string `env:"DUOCALL_LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"DUOCALL_LOG_FORMAT" env-default:"console"`

	// SubscribeTimeout bounds the wait for the relay's subscription ack.
	SubscribeTimeout time.Duration `env:"DUOCALL_SUBSCRIBE_TIMEOUT" env-default:"10s"`
	// WSWriteWait and WSPongWait are the relay connection's write deadline
	// and pong keepalive window.
	WSWriteWait time.Duration `env:"DUOCALL_WS_WRITE_WAIT" env-default:"10s"`
	WSPongWait  time.Duration `env:"DUOCALL_WS_PONG_WAIT" env-default:"60s"`
	// MediaReadyTimeout bounds how long the leader waits for local media
	// before offering anyway.
	MediaReadyTimeout time.Duration `env:"DUOCALL_MEDIA_READY_TIMEOUT" env-default:"5s"`

	// AnnounceInterval is the gap between presence re-announcements;
	// AnnounceAttempts is the total number of joins sent (initial included).
	AnnounceInterval time.Duration `env:"DUOCALL_ANNOUNCE_INTERVAL" env-default:"2s"`
	AnnounceAttempts int           `env:"DUOCALL_ANNOUNCE_ATTEMPTS" env-default:"6"`

	// Address-discovery and relay-traversal servers, either as convenience
	// lists or as a full JSON array (which wins when set).
	STUNURLs       string `env:"DUOCALL_STUN_URLS" env-default:"stun:stun.l.google.com:19302"`
	TURNURLs       string `env:"DUOCALL_TURN_URLS"`
	TURNUsername   string `env:"DUOCALL_TURN_USERNAME"`
	TURNCredential string `env:"DUOCALL_TURN_CREDENTIAL"`
	ICEServersJSON string `env:"DUOCALL_ICE_SERVERS_JSON"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch logging.Format(c.LogFormat) {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("DUOCALL_LOG_FORMAT: unsupported format %q", c.LogFormat)
	}
	if c.SubscribeTimeout <= 0 {
		return fmt.Errorf("DUOCALL_SUBSCRIBE_TIMEOUT must be positive")
	}
	if c.WSWriteWait <= 0 {
		return fmt.Errorf("DUOCALL_WS_WRITE_WAIT must be positive")
	}
	if c.WSPongWait <= 0 {
		return fmt.Errorf("DUOCALL_WS_PONG_WAIT must be positive")
	}
	if c.MediaReadyTimeout <= 0 {
		return fmt.Errorf("DUOCALL_MEDIA_READY_TIMEOUT must be positive")
	}
	if c.AnnounceInterval <= 0 {
		return fmt.Errorf("DUOCALL_ANNOUNCE_INTERVAL must be positive")
	}
	if c.AnnounceAttempts < 1 {
		return fmt.Errorf("DUOCALL_ANNOUNCE_ATTEMPTS must be at least 1")
	}
	if _, err := c.ICEServers(); err != nil {
		return err
	}
	return nil
}

// ICEServers resolves the configured ICE server list for PeerConnections.
func (c Config) ICEServers() ([]webrtc.ICEServer, error) {
	if c.ICEServersJSON != "" {
		servers, err := ParseICEServersJSON(c.ICEServersJSON)
		if err != nil {
			return nil, fmt.Errorf("DUOCALL_ICE_SERVERS_JSON: %w", err)
		}
		return servers, nil
	}
	return ParseICEServersFromConvenienceEnv(c.STUNURLs, c.TURNURLs, c.TURNUsername, c.TURNCredential)
}

package config

import (
	"flag"
	"os"
	"strings"
	"time"
)

// DefaultStunServers are used when no --stun-server flags are given.
var DefaultStunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun.cloudflare.com:3478",
}

// ServerConfig holds configuration for the relay binary.
type ServerConfig struct {
	Addr                 string
	LogLevel             string
	TurnServers          []string // TURN URLs the relay issues credentials for
	TurnStaticAuthSecret string   // coturn static-auth-secret for ephemeral credentials
	TurnCredentialTTL    time.Duration
}

// ClientConfig holds configuration for an SDK endpoint. All timing constants
// are fixed for the lifetime of the session.
type ClientConfig struct {
	ServerURL    string
	PairingCode  string
	Role         string // "mobile" or "agent"
	SnapshotPath string
	LogLevel     string
	StunServers  []string
	TurnServers  []string // static TURN URLs (credentials embedded), optional
	TurnToken    string   // bearer token for the relay's credential issuer, optional

	ConnectionTimeout    time.Duration // one negotiation round
	ConnectingTimeout    time.Duration // stuck-negotiation guard
	PingInterval         time.Duration // signaling keepalive
	HealthCheckInterval  time.Duration
	PeerStaleThreshold   time.Duration // max silence on an open data channel
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	SignalingRedialDelay time.Duration // fixed delay, backoff happens one layer up
	TurnRefreshMargin    time.Duration // refresh TURN credentials this long before expiry
}

// ParseServerConfig parses relay configuration from flags and environment
// variables. Flags take precedence over environment variables.
func ParseServerConfig() ServerConfig {
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) ServerConfig {
	cfg := ServerConfig{
		Addr:              ":8080",
		LogLevel:          "info",
		TurnCredentialTTL: time.Hour,
	}

	if addr := os.Getenv("PAIRLINK_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if logLevel := os.Getenv("PAIRLINK_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if secret := os.Getenv("PAIRLINK_TURN_SECRET"); secret != "" {
		cfg.TurnStaticAuthSecret = secret
	}
	if servers := os.Getenv("PAIRLINK_TURN_SERVERS"); servers != "" {
		cfg.TurnServers = splitServers(servers)
	}

	turnServers := stringSlice(cfg.TurnServers)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "relay listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.Var(&turnServers, "turn-server", "TURN server URL to issue credentials for (repeatable)")
	fs.StringVar(&cfg.TurnStaticAuthSecret, "turn-secret", cfg.TurnStaticAuthSecret, "TURN static auth secret")
	fs.DurationVar(&cfg.TurnCredentialTTL, "turn-ttl", cfg.TurnCredentialTTL, "TURN credential lifetime")
	fs.Parse(args)

	if len(turnServers) > 0 {
		cfg.TurnServers = turnServers
	}

	return cfg
}

// ParseClientConfig parses endpoint configuration from flags and environment
// variables. Flags take precedence over environment variables.
func ParseClientConfig(role string, args []string) ClientConfig {
	return parseClientConfigWithFlagSet(flag.NewFlagSet(role, flag.ExitOnError), role, args)
}

// parseClientConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseClientConfigWithFlagSet(fs *flag.FlagSet, role string, args []string) ClientConfig {
	cfg := DefaultClientConfig(role)

	if serverURL := os.Getenv("PAIRLINK_SERVER_URL"); serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if logLevel := os.Getenv("PAIRLINK_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if code := os.Getenv("PAIRLINK_PAIRING_CODE"); code != "" {
		cfg.PairingCode = code
	}
	if path := os.Getenv("PAIRLINK_SNAPSHOT_PATH"); path != "" {
		cfg.SnapshotPath = path
	}
	if token := os.Getenv("PAIRLINK_TURN_TOKEN"); token != "" {
		cfg.TurnToken = token
	}

	stunServers := stringSlice{}
	turnServers := stringSlice{}
	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "relay URL")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.PairingCode, "pairing-code", cfg.PairingCode, "pairing code shared by both endpoints")
	fs.StringVar(&cfg.SnapshotPath, "snapshot", cfg.SnapshotPath, "path of the store snapshot file")
	fs.StringVar(&cfg.TurnToken, "turn-token", cfg.TurnToken, "token for the relay's TURN credential issuer")
	fs.Var(&stunServers, "stun-server", "STUN server URL (repeatable)")
	fs.Var(&turnServers, "turn-server", "static TURN server URL (repeatable)")
	fs.DurationVar(&cfg.ConnectionTimeout, "connection-timeout", cfg.ConnectionTimeout, "negotiation round timeout")
	fs.IntVar(&cfg.MaxReconnectAttempts, "max-reconnect-attempts", cfg.MaxReconnectAttempts, "reconnect attempts before giving up")
	fs.Parse(args)

	if len(stunServers) > 0 {
		cfg.StunServers = stunServers
	}
	if len(turnServers) > 0 {
		cfg.TurnServers = turnServers
	}
	if cfg.MaxReconnectAttempts < 1 {
		cfg.MaxReconnectAttempts = 1
	}

	return cfg
}

// DefaultClientConfig returns the baked-in defaults for an endpoint of the
// given role, with no environment or flag input applied.
func DefaultClientConfig(role string) ClientConfig {
	return ClientConfig{
		ServerURL:    "http://localhost:8080",
		Role:         role,
		SnapshotPath: "pairlink-store.json",
		LogLevel:     "info",
		StunServers:  DefaultStunServers,

		ConnectionTimeout:    30 * time.Second,
		ConnectingTimeout:    45 * time.Second,
		PingInterval:         30 * time.Second,
		HealthCheckInterval:  15 * time.Second,
		PeerStaleThreshold:   2 * time.Minute,
		ReconnectBaseDelay:   2 * time.Second,
		MaxReconnectAttempts: 10,
		SignalingRedialDelay: 3 * time.Second,
		TurnRefreshMargin:    5 * time.Minute,
	}
}

func splitServers(raw string) []string {
	parts := strings.Split(raw, ",")
	servers := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			servers = append(servers, trimmed)
		}
	}
	return servers
}

// stringSlice implements flag.Value for repeatable string flags.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, splitServers(value)...)
	return nil
}

var _ flag.Value = (*stringSlice)(nil)

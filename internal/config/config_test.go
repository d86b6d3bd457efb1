package config

import (
	"flag"
	"testing"
	"time"
)

func TestParseClientConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	cfg := parseClientConfigWithFlagSet(fs, "agent", nil)

	if cfg.ServerURL != "http://localhost:8080" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.Role != "agent" {
		t.Errorf("Role = %q", cfg.Role)
	}
	if len(cfg.StunServers) != len(DefaultStunServers) {
		t.Errorf("StunServers = %v", cfg.StunServers)
	}
	if cfg.MaxReconnectAttempts != 10 {
		t.Errorf("MaxReconnectAttempts = %d", cfg.MaxReconnectAttempts)
	}
	if cfg.ConnectionTimeout != 30*time.Second {
		t.Errorf("ConnectionTimeout = %v", cfg.ConnectionTimeout)
	}
}

func TestParseClientConfig_Flags(t *testing.T) {
	fs := flag.NewFlagSet("mobile", flag.ContinueOnError)
	cfg := parseClientConfigWithFlagSet(fs, "mobile", []string{
		"--server-url", "https://relay.example.com",
		"--pairing-code", "HK7D2Q",
		"--stun-server", "stun:one.example.com:3478",
		"--stun-server", "stun:two.example.com:3478",
		"--turn-server", "turn:relay.example.com:3478,turns:relay.example.com:5349",
		"--connection-timeout", "10s",
	})

	if cfg.ServerURL != "https://relay.example.com" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.PairingCode != "HK7D2Q" {
		t.Errorf("PairingCode = %q", cfg.PairingCode)
	}
	if len(cfg.StunServers) != 2 {
		t.Errorf("StunServers = %v, want the two flag values", cfg.StunServers)
	}
	// Comma-separated values expand within one flag.
	if len(cfg.TurnServers) != 2 {
		t.Errorf("TurnServers = %v", cfg.TurnServers)
	}
	if cfg.ConnectionTimeout != 10*time.Second {
		t.Errorf("ConnectionTimeout = %v", cfg.ConnectionTimeout)
	}
}

func TestParseClientConfig_EnvAndFlagPrecedence(t *testing.T) {
	t.Setenv("PAIRLINK_SERVER_URL", "http://env.example.com")
	t.Setenv("PAIRLINK_PAIRING_CODE", "ENVCODE")

	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	cfg := parseClientConfigWithFlagSet(fs, "agent", []string{
		"--pairing-code", "FLAGCODE",
	})

	if cfg.ServerURL != "http://env.example.com" {
		t.Errorf("ServerURL = %q, want env value", cfg.ServerURL)
	}
	if cfg.PairingCode != "FLAGCODE" {
		t.Errorf("PairingCode = %q, flag must beat env", cfg.PairingCode)
	}
}

func TestParseClientConfig_ClampsReconnectAttempts(t *testing.T) {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	cfg := parseClientConfigWithFlagSet(fs, "agent", []string{"--max-reconnect-attempts", "0"})
	if cfg.MaxReconnectAttempts != 1 {
		t.Errorf("MaxReconnectAttempts = %d, want clamped to 1", cfg.MaxReconnectAttempts)
	}
}

func TestParseServerConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("pairlinkd", flag.ContinueOnError)
	cfg := parseServerConfigWithFlagSet(fs, nil)

	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.TurnCredentialTTL != time.Hour {
		t.Errorf("TurnCredentialTTL = %v", cfg.TurnCredentialTTL)
	}
	if len(cfg.TurnServers) != 0 {
		t.Errorf("TurnServers = %v, want none", cfg.TurnServers)
	}
}

func TestParseServerConfig_FlagsAndEnv(t *testing.T) {
	t.Setenv("PAIRLINK_TURN_SECRET", "s3cret")
	t.Setenv("PAIRLINK_TURN_SERVERS", "turn:a.example.com:3478, turn:b.example.com:3478")

	fs := flag.NewFlagSet("pairlinkd", flag.ContinueOnError)
	cfg := parseServerConfigWithFlagSet(fs, []string{
		"--addr", ":9999",
		"--turn-ttl", "30m",
	})

	if cfg.Addr != ":9999" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.TurnStaticAuthSecret != "s3cret" {
		t.Errorf("TurnStaticAuthSecret = %q", cfg.TurnStaticAuthSecret)
	}
	if len(cfg.TurnServers) != 2 || cfg.TurnServers[1] != "turn:b.example.com:3478" {
		t.Errorf("TurnServers = %v", cfg.TurnServers)
	}
	if cfg.TurnCredentialTTL != 30*time.Minute {
		t.Errorf("TurnCredentialTTL = %v", cfg.TurnCredentialTTL)
	}
}

func TestStringSliceSplitsAndTrims(t *testing.T) {
	var s stringSlice
	s.Set("a, b,,c")
	s.Set("d")
	want := []string{"a", "b", "c", "d"}
	if len(s) != len(want) {
		t.Fatalf("slice = %v, want %v", s, want)
	}
	for i := range want {
		if s[i] != want[i] {
			t.Errorf("slice[%d] = %q, want %q", i, s[i], want[i])
		}
	}
}

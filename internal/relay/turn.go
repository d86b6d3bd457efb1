package relay

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/pkg/protocol"
)

// turnIssuer mints coturn-style ephemeral TURN credentials from a shared
// static auth secret: username "expiry:id", password HMAC-SHA1(secret,
// username), base64 encoded.
type turnIssuer struct {
	servers []string
	secret  []byte
	ttl     time.Duration
}

func newTurnIssuer(cfg config.ServerConfig, logger *slog.Logger) *turnIssuer {
	if len(cfg.TurnServers) == 0 || cfg.TurnStaticAuthSecret == "" {
		if len(cfg.TurnServers) > 0 {
			logger.Warn("TURN servers configured but no static auth secret set")
		}
		if cfg.TurnStaticAuthSecret != "" {
			logger.Warn("TURN static auth secret set but no TURN servers configured")
		}
		return nil
	}
	ttl := cfg.TurnCredentialTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	logger.Info("TURN credential issuer enabled", "servers", len(cfg.TurnServers), "ttl", ttl)
	return &turnIssuer{
		servers: cfg.TurnServers,
		secret:  []byte(cfg.TurnStaticAuthSecret),
		ttl:     ttl,
	}
}

// Issue mints credentials valid for the issuer's TTL, bound to id.
func (t *turnIssuer) Issue(id string) (protocol.TurnConfig, error) {
	if t == nil {
		return protocol.TurnConfig{}, errors.New("turn issuer not configured")
	}

	expiry := time.Now().Add(t.ttl).UTC()
	username := fmt.Sprintf("%d:%s", expiry.Unix(), id)

	mac := hmac.New(sha1.New, t.secret)
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return protocol.TurnConfig{
		Servers: []protocol.ICEServer{{
			URLs:       t.servers,
			Username:   username,
			Credential: password,
		}},
		ExpiresAt: expiry.Format(time.RFC3339),
	}, nil
}

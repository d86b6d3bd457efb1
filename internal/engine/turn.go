package engine

import (
	"context"
	"time"

	"github.com/pairlink/pairlink/internal/turncreds"
	"github.com/pairlink/pairlink/pkg/protocol"
)

const turnRetryDelay = time.Minute

// refreshTurnCredentials fetches fresh TURN servers from the relay's issuer
// and hands them to the peer over signaling, so both sides negotiate against
// the same allocation window. Runs off the dispatch goroutine; results are
// applied on it.
func (e *Engine) refreshTurnCredentials() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	creds, err := turncreds.Fetch(ctx, e.cfg.ServerURL, e.cfg.TurnToken)
	if err != nil {
		e.logger.Warn("TURN credential fetch failed", "error", err)
		e.turnRefresh.Arm(turnRetryDelay, func() { go e.refreshTurnCredentials() })
		return
	}

	e.run(func() { e.applyTurnCredentials(creds) })
}

func (e *Engine) applyTurnCredentials(creds turncreds.Credentials) {
	e.turnServers = creds.Servers
	e.logger.Info("TURN credentials refreshed",
		"servers", len(creds.Servers), "expiresAt", creds.ExpiresAt)

	e.sendSignal(protocol.TypeTurnConfig, protocol.TurnConfig{
		Servers:   creds.Servers,
		ExpiresAt: creds.ExpiresAt.Format(time.RFC3339),
	})

	wait := time.Until(creds.ExpiresAt) - e.cfg.TurnRefreshMargin
	if wait < 30*time.Second {
		wait = 30 * time.Second
	}
	e.turnRefresh.Arm(wait, func() { go e.refreshTurnCredentials() })
}

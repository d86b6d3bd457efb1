// Package turncreds fetches short-lived TURN credentials from the relay's
// issuing endpoint. The engine refreshes them before expiry and shares the
// fresh servers with the peer over signaling.
package turncreds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pairlink/pairlink/pkg/protocol"
)

// Credentials are the issued TURN servers and their expiry.
type Credentials struct {
	Servers   []protocol.ICEServer
	ExpiresAt time.Time
}

// Fetch requests fresh TURN credentials from GET {serverURL}/turn. The token,
// if non-empty, is sent as a bearer token. Uses a 5 second timeout.
func Fetch(ctx context.Context, serverURL, token string) (Credentials, error) {
	url := serverURL + "/turn"
	if len(url) < 4 || url[:4] != "http" {
		url = "http://" + url
	}

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credentials{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Credentials{}, fmt.Errorf("issuer returned %d: %s", resp.StatusCode, string(body))
	}

	var issued struct {
		Servers   []protocol.ICEServer `json:"servers"`
		ExpiresAt string               `json:"expiresAt"` // RFC3339
	}
	if err := json.Unmarshal(body, &issued); err != nil {
		return Credentials{}, fmt.Errorf("parse response: %w", err)
	}

	expiresAt, err := time.Parse(time.RFC3339, issued.ExpiresAt)
	if err != nil {
		return Credentials{}, fmt.Errorf("parse expiresAt: %w", err)
	}

	return Credentials{Servers: issued.Servers, ExpiresAt: expiresAt}, nil
}

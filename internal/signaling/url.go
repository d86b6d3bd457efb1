package signaling

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildRelayURL converts the relay's HTTP(S) base URL into the WebSocket
// connect URL carrying the pairing code and endpoint role.
func BuildRelayURL(serverURL, pairingCode, role string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}

	scheme := strings.Replace(u.Scheme, "http", "ws", 1)
	if scheme == "ws" && u.Scheme == "https" {
		scheme = "wss"
	}

	query := fmt.Sprintf("pairingCode=%s&role=%s", url.QueryEscape(pairingCode), url.QueryEscape(role))

	wsURL := url.URL{
		Scheme:   scheme,
		Host:     u.Host,
		Path:     "/ws",
		RawQuery: query,
	}

	return wsURL.String(), nil
}

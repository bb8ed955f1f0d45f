package stream

import (
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/pscheid92/tablepulse/internal/domain"
)

// State is the connection state of a Client.
type State int

const (
	StateDisabled State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func healthLabel(s State, retrying bool) string {
	if s == StateDisconnected && retrying {
		return "reconnecting"
	}
	return s.String()
}

// Backoff returns the delay before reconnect attempt n (1-based): base × 1.5^(n-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(base) * math.Pow(1.5, float64(attempt-1)))
}

// URLFromPage derives the stream address from the page the client was served
// from: http becomes ws, https becomes wss, and the path is the stream path.
func URLFromPage(page string) (string, error) {
	u, err := url.Parse(page)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("page url %q has no host", page)
	}
	u.Path = domain.StreamPath
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

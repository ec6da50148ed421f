package mindweave

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mindweave/mindweave.go/pkg/logger"
)

// Config carries everything needed to reach one backend deployment. It is
// not absolutely necessary to build it through NewConfig, but doing so
// derives the websocket endpoint and fills the defaults.
type Config struct {
	// BaseURL is the HTTP root of the backend, e.g. "http://host:8000".
	BaseURL string
	// WSBaseURL is the websocket root, e.g. "ws://host:8000". Derived from
	// BaseURL when empty.
	WSBaseURL string

	// HTTPClient overrides the gateway's default client (cookie jar,
	// 10 second timeout). It must carry a cookie jar: the backend session
	// and the anti-forgery token both live in cookies.
	HTTPClient *http.Client
	// Dialer overrides the channel's default websocket dialer.
	Dialer *websocket.Dialer

	// ReconnectInterval, when positive, makes Connect install an automatic
	// redial loop checking the channel at this interval. Zero leaves
	// reconnection entirely to the caller.
	ReconnectInterval time.Duration

	Logger logger.Logger
}

// NewConfig returns a Config for the given HTTP base URL with the
// websocket endpoint derived from it.
func NewConfig(baseURL string) *Config {
	return &Config{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		WSBaseURL: deriveWSBaseURL(baseURL),
		Logger:    logger.New(os.Stdout),
	}
}

func deriveWSBaseURL(baseURL string) string {
	u := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

package session

import (
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/docsync/internal/core/protocol"
)

// DialMode selects what happens when the first connection attempt fails.
type DialMode string

const (
	// DialOnce makes a single attempt.
	DialOnce DialMode = "none"
	// DialBounded retries with exponential backoff up to MaxRetries times.
	DialBounded DialMode = "bounded"
)

// DialPolicy governs connection attempts before the channel first opens. An
// open channel that drops is never reconnected.
type DialPolicy struct {
	Mode            DialMode      `yaml:"mode"`
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// Config holds configuration for a session channel
type Config struct {
	// URL of the websocket endpoint, e.g. ws://localhost:8081/ws. The
	// document id is added as the "doc" query parameter.
	URL        string
	DocumentID protocol.DocumentID

	// Header is sent with the upgrade request (e.g. Authorization).
	Header http.Header

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
	// InboundBuffer is the number of received frames queued for the consumer.
	InboundBuffer int

	Dial DialPolicy
}

// DefaultConfig returns default channel configuration
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8081/ws",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   4 * 1024 * 1024, // 4MB
		InboundBuffer:    256,
		Dial: DialPolicy{
			Mode:            DialOnce,
			MaxRetries:      5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
	}
}

// Target returns the endpoint URL scoped to the document.
func (c Config) Target() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", errors.Wrapf(ErrInvalidConfig, "unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set(protocol.QueryParam, c.DocumentID.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

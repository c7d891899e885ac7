// Package config loads docsync settings from YAML, a .env file and DOCSYNC_*
// environment variables, in that order of precedence (lowest first).
package config

import (
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/docsync/internal/core/engine"
	"github.com/zeusync/docsync/internal/core/observability/log"
	"github.com/zeusync/docsync/internal/core/persistence"
	"github.com/zeusync/docsync/internal/core/protocol"
	"github.com/zeusync/docsync/internal/core/session"
	"github.com/zeusync/docsync/internal/relay"
)

// ErrInvalidConfig is returned for unusable settings.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "DOCSYNC_"

type LogConfig struct {
	Level string `yaml:"level"`
}

type SessionConfig struct {
	// URL of the websocket endpoint.
	URL              string             `yaml:"url"`
	DocumentID       int64              `yaml:"document_id"`
	HandshakeTimeout time.Duration      `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration      `yaml:"write_timeout"`
	MaxMessageSize   int64              `yaml:"max_message_size"`
	InitialTimeout   time.Duration      `yaml:"initial_timeout"`
	Dial             session.DialPolicy `yaml:"dial"`
}

type PersistenceConfig struct {
	// BaseURL of the document service.
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config is the complete docsync configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Session     SessionConfig     `yaml:"session"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Relay       relay.Config      `yaml:"relay"`
	// Token is forwarded as a bearer token to the document service.
	Token string `yaml:"token"`
}

// Default returns the default configuration.
func Default() Config {
	channel := session.DefaultConfig()
	store := persistence.DefaultConfig()
	return Config{
		Log: LogConfig{Level: log.LevelInfo.String()},
		Session: SessionConfig{
			URL:              channel.URL,
			HandshakeTimeout: channel.HandshakeTimeout,
			WriteTimeout:     channel.WriteTimeout,
			MaxMessageSize:   channel.MaxMessageSize,
			InitialTimeout:   engine.DefaultConfig().InitialTimeout,
			Dial:             channel.Dial,
		},
		Persistence: PersistenceConfig{
			BaseURL: store.BaseURL,
			Timeout: store.Timeout,
		},
		Relay: relay.DefaultConfig(),
	}
}

// LoadYAML overlays the YAML document read from r onto the defaults.
func LoadYAML(r io.Reader) (Config, error) {
	c := Default()
	if err := yaml.NewDecoder(r).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "failed to decode yaml config")
	}
	return c, nil
}

// LoadFile reads a YAML config file.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to open config %s", path)
	}
	defer f.Close()
	return LoadYAML(f)
}

// ApplyEnv loads envFile (a missing file is ignored) into the environment
// without overriding variables already set, then applies DOCSYNC_* variables.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, "failed to load %s", envFile)
		}
	}

	values := map[string]*string{
		"URL":         &c.Session.URL,
		"HTTP_URL":    &c.Persistence.BaseURL,
		"TOKEN":       &c.Token,
		"LOG_LEVEL":   &c.Log.Level,
		"RELAY_ADDR":  &c.Relay.Addr,
		"RELAY_TOKEN": &c.Relay.Token,
	}
	for name, field := range values {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*field = v
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "DIAL_MODE"); ok {
		c.Session.Dial.Mode = session.DialMode(v)
	}

	if v, ok := os.LookupEnv(EnvPrefix + "DOC"); ok {
		id, err := protocol.ParseDocumentID(v)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%sDOC: %v", EnvPrefix, err)
		}
		c.Session.DocumentID = int64(id)
	}

	if v, ok := os.LookupEnv(EnvPrefix + "DIAL_MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%sDIAL_MAX_RETRIES: %v", EnvPrefix, err)
		}
		c.Session.Dial.MaxRetries = n
	}

	durations := map[string]*time.Duration{
		"INITIAL_TIMEOUT": &c.Session.InitialTimeout,
		"WRITE_TIMEOUT":   &c.Session.WriteTimeout,
		"HTTP_TIMEOUT":    &c.Persistence.Timeout,
	}
	for name, field := range durations {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%s%s: %v", EnvPrefix, name, err)
		}
		*field = d
	}
	return nil
}

// Validate checks the settings needed to open a session.
func (c Config) Validate() error {
	if c.Session.DocumentID <= 0 {
		return errors.Wrap(ErrInvalidConfig, "no document id, set --doc or DOCSYNC_DOC")
	}
	switch c.Session.Dial.Mode {
	case session.DialOnce, session.DialBounded:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown dial mode %q", c.Session.Dial.Mode)
	}
	if c.Session.Dial.MaxRetries < 0 {
		return errors.Wrap(ErrInvalidConfig, "negative dial retries")
	}
	if c.Session.InitialTimeout < 0 {
		return errors.Wrap(ErrInvalidConfig, "negative initial timeout")
	}
	if _, err := c.ChannelConfig().Target(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

// LogLevel returns the parsed log level. Unknown names mean info.
func (c Config) LogLevel() log.Level {
	return log.ParseLevel(c.Log.Level)
}

// DocumentID returns the document to open.
func (c Config) DocumentID() protocol.DocumentID {
	return protocol.DocumentID(c.Session.DocumentID)
}

// ChannelConfig returns the session channel settings.
func (c Config) ChannelConfig() session.Config {
	out := session.DefaultConfig()
	out.URL = c.Session.URL
	out.DocumentID = c.DocumentID()
	out.HandshakeTimeout = c.Session.HandshakeTimeout
	out.WriteTimeout = c.Session.WriteTimeout
	out.MaxMessageSize = c.Session.MaxMessageSize
	out.Dial = c.Session.Dial
	if c.Token != "" {
		out.Header = http.Header{"Authorization": []string{"Bearer " + c.Token}}
	}
	return out
}

// EngineConfig returns the sync engine settings.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{InitialTimeout: c.Session.InitialTimeout}
}

// PersistenceConfig returns the persistence client settings.
func (c Config) PersistenceConfig() persistence.Config {
	return persistence.Config{
		BaseURL: c.Persistence.BaseURL,
		Token:   c.Token,
		Timeout: c.Persistence.Timeout,
	}
}

// RelayConfig returns the relay settings.
func (c Config) RelayConfig() relay.Config {
	return c.Relay
}

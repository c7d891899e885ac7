package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/docsync/internal/core/observability/log"
	"github.com/zeusync/docsync/internal/core/protocol"
	"github.com/zeusync/docsync/internal/core/session"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.True(t, errors.Is(c.Validate(), ErrInvalidConfig), "a session needs a document")
	c.Session.DocumentID = 1
	require.NoError(t, c.Validate())
	assert.Equal(t, session.DialOnce, c.Session.Dial.Mode)
	assert.Zero(t, c.Session.InitialTimeout)
	assert.Equal(t, log.LevelInfo, c.LogLevel())
	assert.Equal(t, ":8081", c.RelayConfig().Addr)
}

func TestLoadYAML(t *testing.T) {
	input := `
log:
  level: debug
session:
  url: wss://docs.example.com/ws
  document_id: 42
  initial_timeout: 3s
  dial:
    mode: bounded
    max_retries: 4
    initial_interval: 250ms
persistence:
  base_url: https://docs.example.com
token: abc
`
	c, err := LoadYAML(strings.NewReader(input))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, log.LevelDebug, c.LogLevel())
	assert.Equal(t, protocol.DocumentID(42), c.DocumentID())
	assert.Equal(t, 3*time.Second, c.EngineConfig().InitialTimeout)

	channel := c.ChannelConfig()
	assert.Equal(t, session.DialBounded, channel.Dial.Mode)
	assert.Equal(t, 4, channel.Dial.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, channel.Dial.InitialInterval)
	assert.Equal(t, 10*time.Second, channel.Dial.MaxInterval, "unset keys keep their defaults")
	assert.Equal(t, "Bearer abc", channel.Header.Get("Authorization"))

	store := c.PersistenceConfig()
	assert.Equal(t, "https://docs.example.com", store.BaseURL)
	assert.Equal(t, "abc", store.Token)
}

func TestLoadYAML_Empty(t *testing.T) {
	c, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  document_id: 9\n"), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, protocol.DocumentID(9), c.DocumentID())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DOCSYNC_DOC=17\nDOCSYNC_TOKEN=from-file\n"), 0o600))

	t.Setenv("DOCSYNC_TOKEN", "from-env")
	t.Setenv("DOCSYNC_INITIAL_TIMEOUT", "2s")
	t.Setenv("DOCSYNC_DIAL_MODE", "bounded")
	t.Setenv("DOCSYNC_DIAL_MAX_RETRIES", "3")
	// registered for cleanup, godotenv sets it from the file
	t.Setenv("DOCSYNC_DOC", "")
	require.NoError(t, os.Unsetenv("DOCSYNC_DOC"))

	c := Default()
	require.NoError(t, c.ApplyEnv(envFile))

	assert.Equal(t, protocol.DocumentID(17), c.DocumentID())
	assert.Equal(t, "from-env", c.Token, "set variables win over the file")
	assert.Equal(t, 2*time.Second, c.Session.InitialTimeout)
	assert.Equal(t, session.DialBounded, c.Session.Dial.Mode)
	assert.Equal(t, 3, c.Session.Dial.MaxRetries)
}

func TestApplyEnv_MissingFileIsIgnored(t *testing.T) {
	c := Default()
	assert.NoError(t, c.ApplyEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestApplyEnv_Invalid(t *testing.T) {
	t.Setenv("DOCSYNC_INITIAL_TIMEOUT", "soon")
	c := Default()
	err := c.ApplyEnv("")
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"document id":     func(c *Config) { c.Session.DocumentID = 0 },
		"dial mode":       func(c *Config) { c.Session.Dial.Mode = "forever" },
		"retries":         func(c *Config) { c.Session.Dial.MaxRetries = -1 },
		"initial timeout": func(c *Config) { c.Session.InitialTimeout = -time.Second },
		"url scheme":      func(c *Config) { c.Session.URL = "http://localhost/ws" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			c.Session.DocumentID = 1
			require.NoError(t, c.Validate())
			mutate(&c)
			assert.True(t, errors.Is(c.Validate(), ErrInvalidConfig))
		})
	}
}

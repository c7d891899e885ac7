package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/docsync/internal/config"
	"github.com/zeusync/docsync/internal/core/content"
	"github.com/zeusync/docsync/internal/core/engine"
	"github.com/zeusync/docsync/internal/core/events/bus"
	"github.com/zeusync/docsync/internal/core/observability/log"
	"github.com/zeusync/docsync/internal/core/persistence"
	"github.com/zeusync/docsync/internal/core/session"
	"github.com/zeusync/docsync/internal/relay"
)

// Session is an assembled editing session.
type Session struct {
	Engine  *engine.Engine
	Buffer  *content.Buffer
	Store   *persistence.Client
	Channel *session.Channel
	Logger  log.Log
}

// SessionSet provides everything an editing session needs from a Config.
var SessionSet = wire.NewSet(
	ProvideLogger,
	ProvideBus,
	ProvideChannel,
	ProvideBuffer,
	ProvidePersistence,
	ProvideEngine,
)

// RelaySet provides the development relay.
var RelaySet = wire.NewSet(
	ProvideLogger,
	ProvideRelay,
)

func ProvideLogger(cfg config.Config) log.Log {
	return log.New(cfg.LogLevel())
}

func ProvideBus() bus.EventBus {
	return bus.New()
}

func ProvideChannel(cfg config.Config, logger log.Log) *session.Channel {
	return session.New(cfg.ChannelConfig(), logger)
}

func ProvideBuffer() *content.Buffer {
	return content.NewBuffer(nil)
}

func ProvidePersistence(cfg config.Config, logger log.Log) *persistence.Client {
	return persistence.New(cfg.PersistenceConfig(), logger)
}

func ProvideEngine(
	cfg config.Config,
	channel *session.Channel,
	buffer *content.Buffer,
	store *persistence.Client,
	eventBus bus.EventBus,
	logger log.Log,
) *engine.Engine {
	return engine.New(cfg.EngineConfig(), channel, buffer, store, eventBus, logger)
}

func ProvideRelay(cfg config.Config, logger log.Log) *relay.Server {
	return relay.New(cfg.RelayConfig(), logger)
}

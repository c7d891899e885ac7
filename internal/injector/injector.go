//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/docsync/internal/config"
	"github.com/zeusync/docsync/internal/relay"
)

func InitializeSession(cfg config.Config) *Session {
	wire.Build(SessionSet, wire.Struct(new(Session), "*"))
	return nil
}

func InitializeRelay(cfg config.Config) *relay.Server {
	wire.Build(RelaySet)
	return nil
}

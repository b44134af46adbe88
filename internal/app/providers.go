package app

import (
	"context"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"

	"github.com/pulsepal/pulsepal/internal/config"
	"github.com/pulsepal/pulsepal/internal/history"
	"github.com/pulsepal/pulsepal/internal/msgcache"
	"github.com/pulsepal/pulsepal/internal/pubsub"
	"github.com/pulsepal/pulsepal/internal/socket"
	"github.com/pulsepal/pulsepal/internal/tokenstore"
)

// Providers for the core services. Each one declares its dependencies by
// invoking them from the injector, so construction order falls out of the
// graph instead of being maintained by hand.

func provideConfig(i do.Injector) (*config.Config, error) {
	return config.New()
}

func provideTokenStore(i do.Injector) (*tokenstore.Store, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return tokenstore.New(afero.NewOsFs(), cfg.StateDir), nil
}

func provideBus(i do.Injector) (pubsub.Bus, error) {
	cfg := do.MustInvoke[*config.Config](i)
	bridge := pubsub.NewWatermillBridge()
	if !cfg.TracingEnabled {
		return bridge, nil
	}

	tracer, cleanup, err := pubsub.SetupOTel(context.Background(), pubsub.TracingConfig{
		Enabled:     true,
		ServiceName: "pulsepal-realtime",
		ZipkinURL:   cfg.ZipkinURL,
	})
	if err != nil {
		bridge.Close()
		return nil, err
	}
	return pubsub.NewTracedBus(bridge, tracer, cleanup), nil
}

func provideCache(i do.Injector) (*msgcache.Cache, error) {
	return msgcache.New(), nil
}

func provideSessionManager(i do.Injector) (*socket.Manager, error) {
	cfg := do.MustInvoke[*config.Config](i)
	tokens := do.MustInvoke[*tokenstore.Store](i)
	bus := do.MustInvoke[pubsub.Bus](i)
	return socket.NewManager(cfg, tokens, bus), nil
}

func provideHistoryClient(i do.Injector) (*history.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	tokens := do.MustInvoke[*tokenstore.Store](i)
	return history.NewClient(cfg.APIBaseURL, tokens), nil
}

// Package app wires the client's services together through a dependency
// injector and owns their startup and shutdown order.
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/pulsepal/pulsepal/internal/chat"
	"github.com/pulsepal/pulsepal/internal/config"
	"github.com/pulsepal/pulsepal/internal/history"
	"github.com/pulsepal/pulsepal/internal/monitor"
	"github.com/pulsepal/pulsepal/internal/msgcache"
	"github.com/pulsepal/pulsepal/internal/pubsub"
	"github.com/pulsepal/pulsepal/internal/socket"
	"github.com/pulsepal/pulsepal/internal/tokenstore"
)

// Identity is the authenticated user the chat controller acts as.
type Identity struct {
	UserID   string
	Username string
}

// App is the assembled client: session manager, controllers, and their
// shared services.
type App struct {
	injector *do.RootScope
	logger   *slog.Logger

	Config   *config.Config
	Tokens   *tokenstore.Store
	Bus      pubsub.Bus
	Cache    *msgcache.Cache
	Sessions *socket.Manager
	History  *history.Client
	Chat     *chat.Controller
	Monitor  *monitor.Controller
}

// New builds the full service graph for the given user.
func New(identity Identity) (*App, error) {
	injector := do.New()

	do.Provide(injector, provideConfig)
	do.Provide(injector, provideTokenStore)
	do.Provide(injector, provideBus)
	do.Provide(injector, provideCache)
	do.Provide(injector, provideSessionManager)
	do.Provide(injector, provideHistoryClient)

	cfg, err := do.Invoke[*config.Config](injector)
	if err != nil {
		return nil, err
	}

	a := &App{
		injector: injector,
		logger:   slog.Default().With("service", "app"),
		Config:   cfg,
		Tokens:   do.MustInvoke[*tokenstore.Store](injector),
		Bus:      do.MustInvoke[pubsub.Bus](injector),
		Cache:    do.MustInvoke[*msgcache.Cache](injector),
		Sessions: do.MustInvoke[*socket.Manager](injector),
		History:  do.MustInvoke[*history.Client](injector),
	}

	a.Chat = chat.New(a.Sessions, a.History, a.Cache, identity.UserID, identity.Username,
		chat.WithPageSize(cfg.HistoryPageSize))
	a.Monitor = monitor.New(a.Sessions)

	return a, nil
}

// Start attaches the controllers' subscriptions and opens the socket
// namespaces. The chat namespace is only dialed when a token is already
// stored; the monitor namespace needs no auth and connects eagerly.
func (a *App) Start(ctx context.Context) error {
	if err := a.Chat.Start(ctx); err != nil {
		return err
	}
	if err := a.Monitor.Start(ctx); err != nil {
		return err
	}

	if token := a.Tokens.AccessToken(); token != "" {
		if err := a.Sessions.Connect(ctx, socket.NamespaceChat); err != nil {
			a.logger.Warn("initial chat connect failed", "error", err)
		}
	}

	go func() {
		err := a.Sessions.WatchTokenRefresh(ctx)
		if err != nil && !errors.Is(err, tokenstore.ErrWatchUnsupported) && !errors.Is(err, context.Canceled) {
			a.logger.Warn("token refresh watcher stopped", "error", err)
		}
	}()

	return nil
}

// Close tears down controllers, sockets, and the event bus, in that order.
func (a *App) Close() {
	a.Chat.Close()
	a.Monitor.Close()
	a.Sessions.Disconnect()
	if err := a.Bus.Close(); err != nil {
		a.logger.Warn("bus close failed", "error", err)
	}
	a.injector.Shutdown()
}

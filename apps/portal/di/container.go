// Package di wires the portal's dependencies with a dig.Container.
package di

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoportal "github.com/trezcool/masomo/portal/apps/portal/echo"
	"github.com/trezcool/masomo/portal/core"
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/core/toast"
	"github.com/trezcool/masomo/portal/services/apiclient"
	logsvc "github.com/trezcool/masomo/portal/services/logger"
	"github.com/trezcool/masomo/portal/storage"
)

type (
	StorageLoggerParam struct {
		dig.In
		Logger core.Logger `name:"storageLogger"`
	}

	// StorageCloser releases the session storage backend.
	StorageCloser func() error

	serverParams struct {
		dig.In
		Conf   *core.Config
		Logger core.Logger
		Store  *session.Store
		Toasts *toast.Center
		Client *apiclient.Client
	}
)

var newStdLogger = func(prefix string) *log.Logger { // mockable
	return log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
}

func newLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(newStdLogger("PORTAL : "), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStorageLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(newStdLogger("STORAGE : "), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStorage(conf *core.Config) (session.Storage, StorageCloser, error) {
	backend, closeFn, err := storage.Open(context.Background(), conf)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "setting up %s storage", conf.Storage.Driver)
	}
	return backend, closeFn, nil
}

// newStore returns the process-wide session, already restored from storage.
func newStore(backend session.Storage, loggerParam StorageLoggerParam) *session.Store {
	store := session.NewStore(backend, loggerParam.Logger)
	store.Initialize(context.Background())
	return store
}

func newToasts(conf *core.Config) *toast.Center {
	return toast.NewCenter(conf.Toast.Duration)
}

func newClient(conf *core.Config, store *session.Store, toasts *toast.Center, logger core.Logger) *apiclient.Client {
	return apiclient.New(conf.API, store, toasts, logger)
}

func newServer(p serverParams) *echoportal.Server {
	return echoportal.NewServer(echoportal.ServerDeps{
		Conf:   p.Conf,
		Logger: p.Logger,
		Store:  p.Store,
		Toasts: p.Toasts,
		Client: p.Client,
	})
}

// New returns a new dependency injection dig.Container.
// newConfig is provided as is, so tests can pass their own.
func New(newConfig interface{}) (*dig.Container, error) {
	c := dig.New()

	providers := []struct {
		constructor interface{}
		opts        []dig.ProvideOption
	}{
		{constructor: newConfig},
		{constructor: newLogger},
		{constructor: newStorageLogger, opts: []dig.ProvideOption{dig.Name("storageLogger")}},
		{constructor: newStorage},
		{constructor: newStore},
		{constructor: newToasts},
		{constructor: newClient},
		{constructor: newServer},
	}
	for _, p := range providers {
		if err := c.Provide(p.constructor, p.opts...); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("failed to provide %T", p.constructor))
		}
	}
	return c, nil
}

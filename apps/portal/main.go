package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"

	"github.com/trezcool/masomo/portal/apps/portal/di"
	echoportal "github.com/trezcool/masomo/portal/apps/portal/echo"
	"github.com/trezcool/masomo/portal/core"
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/services/apiclient"
)

func main() {
	c, err := di.New(core.NewConfig)
	must(err)

	must(c.Invoke(func(
		conf *core.Config,
		logger core.Logger,
		store *session.Store,
		client *apiclient.Client,
		closeStorage di.StorageCloser,
		server *echoportal.Server,
	) {
		// =========================================================================
		// Initialize App

		logger.Info(fmt.Sprintf("Portal initializing : version %q", conf.Build))

		defer func() {
			if err := closeStorage(); err != nil {
				logger.Error("closing storage", err)
			}
		}()
		defer logger.Info("Portal stopped")

		// repopulate the user summary of a restored session
		if sess := store.Session(); sess.IsAuthenticated() {
			logger.Info(fmt.Sprintf("session restored : role %q", sess.Role))
			go func() {
				if _, err := client.Profile(context.Background()); err != nil && !apiclient.IsUnauthorized(err) {
					logger.Warn("fetching profile", err)
				}
			}()
		}

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.

		if conf.Server.DebugAddress != "" {
			expvar.NewString("build").Set(conf.Build)
			expvar.NewString("env").Set(conf.Env)

			go func() {
				if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
					logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
				}
			}()
		}

		// =========================================================================
		// Start Portal

		go func() {
			server.Start()
		}()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			logger.Error(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

			// give outstanding requests a deadline for completion
			ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()

			// asking listener to shut down and shed load
			if err := server.Shutdown(ctx); err != nil {
				logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

				if err = server.Close(); err != nil {
					logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
				}
			}
		}
	}))
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

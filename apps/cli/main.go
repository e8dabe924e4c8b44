package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/trezcool/masomo/portal/core"
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/core/toast"
	"github.com/trezcool/masomo/portal/services/apiclient"
	logsvc "github.com/trezcool/masomo/portal/services/logger"
	"github.com/trezcool/masomo/portal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	conf, err := core.NewConfig()
	if err != nil {
		log.Printf("loading config: %v", err)
		return 1
	}

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "CLI : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	ctx := context.Background()
	backend, closeStorage, err := storage.Open(ctx, conf)
	if err != nil {
		logger.Error(fmt.Sprintf("setting up %s storage: %v", conf.Storage.Driver, err), err)
		return 1
	}
	defer func() {
		if err := closeStorage(); err != nil {
			logger.Error("closing storage", err)
		}
	}()

	store := session.NewStore(backend, logger)
	store.Initialize(ctx)

	// toasts are printed as they come; nothing stays on screen
	toasts := toast.NewCenter(conf.Toast.Duration)
	toasts.Subscribe(func(ev toast.Event) {
		if ev.Kind == toast.Added {
			fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", ev.Toast.Type, ev.Toast.Title, ev.Toast.Message)
		}
	})

	cli := commandLine{
		store:  store,
		client: apiclient.New(conf.API, store, toasts, logger),
		out:    os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if !errors.Is(err, errHelp) {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", describe(err))
		}
		return 1
	}
	return 0
}

// describe renders field errors one per line.
func describe(err error) string {
	var vErr *core.ValidationError
	if errors.As(err, &vErr) {
		msg := vErr.Error()
		for field, e := range vErr.FieldErrors() {
			msg += fmt.Sprintf("\n  %s: %s", field, e)
		}
		return msg
	}
	return err.Error()
}

package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/kchartio/kchart/internal/config"
	"github.com/kchartio/kchart/internal/di"
	"github.com/kchartio/kchart/internal/logger"
)

// app carries the flags shared by every command and the container built
// from them.
type app struct {
	flags    config.Flags
	injector *do.RootScope
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "kchart",
		Short:         "Hourly cross-service music chart aggregator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.EnvFile, "env-file", "", "path to a .env file (default .env)")
	pf.StringVar(&a.flags.Env, "env", "", "environment: development, staging or production")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&a.flags.DataPath, "data", "", "data directory for the database, cache and search index")
	pf.StringVar(&a.flags.CacheBackend, "cache", "", "aggregate cache backend: badger or redis")
	pf.StringVar(&a.flags.RedisURL, "redis-url", "", "redis URL for the redis cache backend")
	pf.StringVar(&a.flags.ProxyURL, "proxy", "", "HTTP proxy for vendor requests")

	root.AddCommand(
		a.serveCommand(),
		a.updateCommand(),
		a.refreshCommand(),
		a.aggregateCommand(),
		a.backfillCommand(),
		a.tasksCommand(),
		a.reindexCommand(),
	)
	return root
}

// open builds the container and everything one-shot commands need.
func (a *app) open() error {
	a.injector = di.NewContainer(a.flags)
	if err := di.Bootstrap(a.injector); err != nil {
		a.close()
		return err
	}
	return nil
}

// close shuts the container down, logging failures.
func (a *app) close() {
	if a.injector == nil {
		return
	}
	if err := a.injector.Shutdown(); err != nil {
		if log, invokeErr := do.Invoke[*logger.Logger](a.injector); invokeErr == nil {
			log.WithError(err).Error("Shutdown error")
		}
	}
	a.injector = nil
}

// logger returns the container's logger.
func (a *app) logger() *logger.Logger {
	return do.MustInvoke[*logger.Logger](a.injector)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Package di provides dependency injection configuration for kchart.
package di

import (
	"github.com/samber/do/v2"

	"github.com/kchartio/kchart/internal/config"
	"github.com/kchartio/kchart/internal/di/providers"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/service"
)

// NewContainer creates and configures the DI container with all providers.
// Nothing is built until it is invoked.
func NewContainer(flags config.Flags) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, flags)
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideSlogLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideCache)

	// Search layer
	do.Provide(injector, providers.ProvideSearchIndex)
	do.Provide(injector, providers.ProvideSearchService)

	// Vendors
	do.Provide(injector, providers.ProvideFetchClient)
	do.Provide(injector, providers.ProvideMelon)
	do.Provide(injector, providers.ProvideVendors)
	do.Provide(injector, providers.ProvideResolver)

	// Business services
	do.Provide(injector, providers.ProvideAggregateService)
	do.Provide(injector, providers.ProvideChartService)
	do.Provide(injector, providers.ProvideSongService)

	// Workers
	do.Provide(injector, providers.ProvideScheduler)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap builds everything a one-shot command needs: the store with the
// search index wired in and the chart services registered. Nothing is
// started.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*logger.Logger](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*service.SearchService](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*service.ChartService](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*service.SongService](injector); err != nil {
		return err
	}
	_, err := do.Invoke[*providers.SchedulerHandle](injector)
	return err
}

// Serve bootstraps the container, starts the scheduler and the read API,
// and triggers a search reindex when the index is empty.
func Serve(injector *do.RootScope) error {
	if err := Bootstrap(injector); err != nil {
		return err
	}

	providers.TriggerSearchReindexIfNeeded(injector)

	scheduler := do.MustInvoke[*providers.SchedulerHandle](injector)
	scheduler.Start()

	_, err := do.Invoke[*providers.HTTPServerHandle](injector)
	return err
}

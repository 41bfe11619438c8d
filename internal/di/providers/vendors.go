package providers

import (
	"github.com/samber/do/v2"

	"github.com/kchartio/kchart/internal/config"
	"github.com/kchartio/kchart/internal/fetch"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/resolver"
	"github.com/kchartio/kchart/internal/vendors"
	"github.com/kchartio/kchart/internal/vendors/bugs"
	"github.com/kchartio/kchart/internal/vendors/genie"
	"github.com/kchartio/kchart/internal/vendors/melon"
	"github.com/kchartio/kchart/internal/vendors/mnet"
)

// ProvideFetchClient provides the rate-limited vendor HTTP client.
func ProvideFetchClient(i do.Injector) (*fetch.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return fetch.New(fetch.Options{
		Timeout:            cfg.Fetch.Timeout,
		ProxyURL:           cfg.Fetch.ProxyURL,
		ProxyTimeoutFactor: cfg.Fetch.ProxyTimeoutFactor,
		UserAgents:         cfg.Fetch.UserAgents,
		RequestsPerSecond:  cfg.Fetch.RequestsPerSecond,
		Logger:             log.Logger,
	})
}

// ProvideMelon provides the reference vendor.
func ProvideMelon(i do.Injector) (*melon.Service, error) {
	cfg := do.MustInvoke[*config.Config](i)
	client := do.MustInvoke[*fetch.Client](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Vendor.MelonAppKey == "" {
		log.Warn("MELON_APP_KEY is not set, the reference API may reject requests")
	}

	return melon.New(client, melon.Options{
		APIURL: cfg.Vendor.MelonAPIURL,
		AppKey: cfg.Vendor.MelonAppKey,
		Logger: log.Logger,
	}), nil
}

// ProvideVendors provides the chart service registry.
func ProvideVendors(i do.Injector) (*vendor.Registry, error) {
	cfg := do.MustInvoke[*config.Config](i)
	client := do.MustInvoke[*fetch.Client](i)
	ref := do.MustInvoke[*melon.Service](i)
	log := do.MustInvoke[*logger.Logger](i)

	return vendor.NewRegistry(
		ref,
		genie.New(client, genie.Options{ChartURL: cfg.Vendor.GenieURL, Logger: log.Logger}),
		mnet.New(client, mnet.Options{ChartURL: cfg.Vendor.MnetURL, Logger: log.Logger}),
		bugs.New(client, bugs.Options{ChartURL: cfg.Vendor.BugsURL, Logger: log.Logger}),
	)
}

// ProvideResolver provides the entity resolver backed by the reference
// catalog search.
func ProvideResolver(i do.Injector) (*resolver.Resolver, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	ref := do.MustInvoke[*melon.Service](i)
	log := do.MustInvoke[*logger.Logger](i)

	return resolver.New(storeHandle.Store, ref.Catalog(), log.Logger), nil
}

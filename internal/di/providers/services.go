package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/resolver"
	"github.com/kchartio/kchart/internal/service"
	"github.com/kchartio/kchart/internal/vendors"
)

// ProvideAggregateService provides the aggregator.
func ProvideAggregateService(i do.Injector) (*service.AggregateService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	cacheHandle := do.MustInvoke[*CacheHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewAggregateService(storeHandle.Store, cacheHandle.Cache, log.Logger), nil
}

// ProvideChartService provides the chart ingestor. Every registered vendor
// is synced to its service and chart rows before the service is returned.
func ProvideChartService(i do.Injector) (*service.ChartService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	vendors := do.MustInvoke[*vendor.Registry](i)
	res := do.MustInvoke[*resolver.Resolver](i)
	aggregates := do.MustInvoke[*service.AggregateService](i)
	log := do.MustInvoke[*logger.Logger](i)

	svc := service.NewChartService(storeHandle.Store, vendors, res, aggregates, log.Logger)
	if err := svc.Sync(context.Background()); err != nil {
		return nil, err
	}

	log.Info("Chart services registered", "charts", vendors.Slugs())

	return svc, nil
}

// ProvideSongService provides song detail and history queries.
func ProvideSongService(i do.Injector) (*service.SongService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewSongService(storeHandle.Store, log.Logger), nil
}

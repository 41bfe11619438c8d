package providers

import (
	"github.com/samber/do/v2"

	"github.com/kchartio/kchart/internal/config"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/scheduler"
	"github.com/kchartio/kchart/internal/service"
	"github.com/kchartio/kchart/internal/vendors"
)

// SchedulerHandle wraps the task scheduler with shutdown capability. The
// scheduler is built stopped; serve starts it, one-shot commands drive it
// directly.
type SchedulerHandle struct {
	*scheduler.Scheduler
	started bool
}

// Start launches the workers and loops.
func (h *SchedulerHandle) Start() {
	h.Scheduler.Start()
	h.started = true
}

// Shutdown implements do.Shutdownable.
func (h *SchedulerHandle) Shutdown() error {
	if h.started {
		h.Stop()
	}
	return nil
}

// ProvideScheduler provides the task scheduler.
func ProvideScheduler(i do.Injector) (*SchedulerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	charts := do.MustInvoke[*service.ChartService](i)
	aggregates := do.MustInvoke[*service.AggregateService](i)
	vendors := do.MustInvoke[*vendor.Registry](i)
	log := do.MustInvoke[*logger.Logger](i)

	s := scheduler.New(storeHandle.Store, charts, aggregates, vendors, cfg.Scheduler, log.Logger)
	return &SchedulerHandle{Scheduler: s}, nil
}

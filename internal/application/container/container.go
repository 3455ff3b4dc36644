package container

import (
	"time"

	"sigex/internal/application/port"
	"sigex/internal/application/service"
	"sigex/internal/application/usecase/engine"
	domainsvc "sigex/internal/domain/service"
	"sigex/internal/infrastructure/config"
)

type Container struct {
	cfg    *config.Config
	repo   port.Repository
	venues port.VenueResolver
	sink   port.EventSink

	quotaService    *service.QuotaService
	positionService *service.PositionService
	executorService *service.ExecutorService
	engineService   *engine.Service
}

func New(cfg *config.Config, repo port.Repository, venues port.VenueResolver, sink port.EventSink) *Container {
	if sink == nil {
		sink = engine.NewNoopSink()
	}
	return &Container{
		cfg:    cfg,
		repo:   repo,
		venues: venues,
		sink:   sink,
	}
}

func (c *Container) Repository() port.Repository {
	return c.repo
}

func (c *Container) QuotaService() *service.QuotaService {
	if c.quotaService == nil {
		c.quotaService = service.NewQuotaService(c.repo)
	}
	return c.quotaService
}

func (c *Container) PositionService() *service.PositionService {
	if c.positionService == nil {
		c.positionService = service.NewPositionService(c.repo)
	}
	return c.positionService
}

func (c *Container) ExecutorService() *service.ExecutorService {
	if c.executorService == nil {
		policy := domainsvc.RetryPolicy{
			MaxRetries: c.cfg.App.MaxRetryCount,
			MaxAge:     c.cfg.MaxRetryAge(),
		}
		c.executorService = service.NewExecutorService(c.repo, c.venues, c.sink, policy, c.venueTimeout())
	}
	return c.executorService
}

func (c *Container) Engine() *engine.Service {
	if c.engineService == nil {
		c.engineService = engine.NewService(engine.ServiceDeps{
			Repo:        c.repo,
			Executor:    c.ExecutorService(),
			ServiceName: c.cfg.App.ServiceName,
			Interval:    c.cfg.Interval(),
			BatchSize:   c.cfg.App.BatchSize,
			MaxRetryAge: c.cfg.MaxRetryAge(),
		})
	}
	return c.engineService
}

// venueTimeout bounds one signal's venue work by the slowest configured
// sidecar.
func (c *Container) venueTimeout() time.Duration {
	max := 30 * time.Second
	for _, vc := range c.cfg.Venues {
		if vc.Enabled && vc.Timeout() > max {
			max = vc.Timeout()
		}
	}
	return max
}

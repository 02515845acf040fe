// Pause and resume of heavy background work, driven by the memory sentinel.

package workers

import (
	"Lantern/pkg/log"
	"context"
	"sync"
)

// Scheduler is anything that starts heavy work on its own, a job queue or a cron loop.
// PauseNew stops it from starting new work, work already running is left alone.
type Scheduler interface {
	PauseNew()
	ResumeNew()
}

// Controller fans pause and resume transitions out to every registered Scheduler.
// Repeated calls in the same state are no-ops.
type Controller struct {
	mu         sync.Mutex
	paused     bool
	schedulers []Scheduler
	logger     log.Logger
}

func NewController(logger log.Logger) *Controller {
	return &Controller{logger: logger.With("component", "workers")}
}

// Register adds a Scheduler. It is paused right away when registered during a pause.
func (c *Controller) Register(s Scheduler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedulers = append(c.schedulers, s)
	if c.paused {
		s.PauseNew()
	}
}

func (c *Controller) Pause(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	for _, s := range c.schedulers {
		s.PauseNew()
	}
	c.logger.WithCtx(ctx).Warn().Int("schedulers", len(c.schedulers)).Msg("Heavy work paused")
}

func (c *Controller) Resume(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	for _, s := range c.schedulers {
		s.ResumeNew()
	}
	c.logger.WithCtx(ctx).Info().Int("schedulers", len(c.schedulers)).Msg("Heavy work resumed")
}

func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

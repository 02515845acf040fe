// Bounded dispatch of CPU-bound tasks to an external executor.

package workers

import (
	"Lantern/pkg/log"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrPaused is returned for heavy tasks while heavy work is paused.
	ErrPaused = errors.New("heavy tasks are paused under memory pressure")
	// ErrUnknownTask is returned when no executor handles a task type.
	ErrUnknownTask = errors.New("unknown task type")
)

// Executor runs one task. Payload and output are opaque JSON documents.
type Executor interface {
	Execute(ctx context.Context, taskType string, payload json.RawMessage) (json.RawMessage, error)
}

// Result of a dispatched task.
type Result struct {
	TaskType string          `json:"taskType"`
	Output   json.RawMessage `json:"output,omitempty"`
	Duration time.Duration   `json:"durationNs"`
}

type PoolOptions struct {
	// Concurrency bounds the tasks running at once, defaults to 1.
	Concurrency int
	// HeavyTypes are refused while the pool is paused, every other type always runs.
	HeavyTypes []string
	Clock      clockwork.Clock
}

// Pool implements Scheduler, pausing only stops new heavy tasks from starting.
type Pool struct {
	executor Executor
	sem      *semaphore.Weighted
	heavy    map[string]bool
	clock    clockwork.Clock
	paused   atomic.Bool
	running  atomic.Int64
	metrics  *Metrics
	logger   log.Logger
}

func NewPool(executor Executor, opts PoolOptions, reg prometheus.Registerer, logger log.Logger) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	heavy := make(map[string]bool, len(opts.HeavyTypes))
	for _, t := range opts.HeavyTypes {
		heavy[t] = true
	}
	p := &Pool{
		executor: executor,
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		heavy:    heavy,
		clock:    opts.Clock,
		logger:   logger.With("component", "pool"),
	}
	p.metrics = NewMetrics(reg, p)
	return p
}

func (p *Pool) PauseNew()  { p.paused.Store(true) }
func (p *Pool) ResumeNew() { p.paused.Store(false) }

// Paused reports whether heavy tasks are currently refused.
func (p *Pool) Paused() bool { return p.paused.Load() }

// Running is the number of tasks currently executing.
func (p *Pool) Running() int64 { return p.running.Load() }

// Heavy reports whether taskType is refused under pause.
func (p *Pool) Heavy(taskType string) bool { return p.heavy[taskType] }

// Dispatch waits for a free slot and runs the task on the caller's goroutine.
// A heavy task still waiting for a slot when a pause begins is refused as well.
func (p *Pool) Dispatch(ctx context.Context, taskType string, payload json.RawMessage) (Result, error) {
	if p.refuse(taskType) {
		return Result{}, ErrPaused
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Result{}, fmt.Errorf("waiting for a worker slot: %w", err)
	}
	defer p.sem.Release(1)
	if p.refuse(taskType) {
		return Result{}, ErrPaused
	}

	p.running.Add(1)
	defer p.running.Add(-1)
	start := p.clock.Now()
	output, err := p.execute(ctx, taskType, payload)
	elapsed := p.clock.Since(start)
	p.metrics.Duration.WithLabelValues(taskType).Observe(elapsed.Seconds())
	if err != nil {
		p.metrics.Failures.WithLabelValues(taskType).Inc()
		p.logger.WithCtx(ctx).Error().Err(err).Str("task", taskType).Dur("elapsed", elapsed).Msg("Task failed")
		return Result{}, err
	}
	p.logger.WithCtx(ctx).Debug().Str("task", taskType).Dur("elapsed", elapsed).Msg("Task finished")
	return Result{TaskType: taskType, Output: output, Duration: elapsed}, nil
}

func (p *Pool) refuse(taskType string) bool {
	if p.heavy[taskType] && p.paused.Load() {
		p.metrics.Refused.WithLabelValues(taskType).Inc()
		return true
	}
	return false
}

// A panicking executor is reported as an error.
func (p *Pool) execute(ctx context.Context, taskType string, payload json.RawMessage) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", taskType, r)
		}
	}()
	return p.executor.Execute(ctx, taskType, payload)
}

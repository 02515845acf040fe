// Memory pressure sentinel: samples process memory, classifies pressure and applies mitigation.

package sentinel

import (
	"Lantern/internal/entity"
	"Lantern/pkg/log"
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultCapacity     = 120
	defaultRecentWindow = 12
	persistTimeout      = time.Second
)

// CacheEvictor releases cached data and reports how many units it reclaimed.
type CacheEvictor interface {
	Evict(ctx context.Context) (int, error)
}

// WorkerController pauses and resumes heavy background work.
type WorkerController interface {
	Pause(ctx context.Context)
	Resume(ctx context.Context)
}

// Options of the Sentinel. Only CeilingBytes matters in production, the rest is injectable for tests.
type Options struct {
	CeilingBytes uint64
	Interval     time.Duration
	Capacity     int
	RecentWindow int
	Clock        clockwork.Clock
	Reader       Reader
	// GC forces a collection, defaults to debug.FreeOSMemory.
	GC         func()
	Evictor    CacheEvictor
	Workers    WorkerController
	Repository Repository
}

// Sentinel owns the pressure state. Only the sampling step mutates it.
type Sentinel struct {
	opts    Options
	logger  log.Logger
	metrics *Metrics

	// Serializes sampling steps, guards the evaluation state below.
	sampleMu             sync.Mutex
	pressureSince        time.Time
	lastEviction         time.Time
	consecutiveEvictions int
	cooldown             time.Duration

	// Guards what Stats reads.
	mu            sync.RWMutex
	samples       *Ring[entity.MemorySample]
	peak          *entity.MemorySample
	count         uint64
	level         entity.PressureLevel
	workersPaused bool

	shedding    atomic.Bool
	heapPercent atomic.Uint64
	startedAt   time.Time

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(opts Options, reg prometheus.Registerer, logger log.Logger) *Sentinel {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = defaultRecentWindow
	}
	if opts.Reader == nil {
		opts.Reader = NewRuntimeReader(logger)
	}
	if opts.GC == nil {
		opts.GC = debug.FreeOSMemory
	}
	opts.CeilingBytes = ResolveCeiling(opts.CeilingBytes)
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Sentinel{
		opts:      opts,
		logger:    logger.With("component", "sentinel"),
		metrics:   NewMetrics(reg),
		cooldown:  initialEvictionCooldown,
		samples:   NewRing[entity.MemorySample](opts.Capacity),
		startedAt: opts.Clock.Now(),
	}
}

// Start takes a first sample and then samples every Interval until Stop or ctx is done.
func (s *Sentinel) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	ticker := s.opts.Clock.NewTicker(s.opts.Interval)
	s.logger.Info().Uint64("ceiling_bytes", s.opts.CeilingBytes).Dur("interval", s.opts.Interval).Msg("Memory sentinel started")
	s.logPreviousTransition(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		s.sample(ctx, 0)
		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-ticker.Chan():
				s.sample(ctx, s.opts.Clock.Since(tick))
			}
		}
	}()
}

// Stop cancels the sampling loop and waits for it.
func (s *Sentinel) Stop() {
	s.lifecycle.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.lifecycle.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// Sample takes one reading and evaluates it immediately.
func (s *Sentinel) Sample(ctx context.Context) (entity.MemorySample, error) {
	return s.sample(ctx, 0)
}

func (s *Sentinel) sample(ctx context.Context, delay time.Duration) (entity.MemorySample, error) {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()

	reading, err := s.opts.Reader.Read()
	if err != nil {
		s.logger.Error().Err(err).Msg("Memory reading failed")
		return entity.MemorySample{}, err
	}
	if delay < 0 {
		delay = 0
	}
	reading.Timestamp = s.opts.Clock.Now()
	reading.HeapUsedPercent = float64(reading.HeapUsed) / float64(s.opts.CeilingBytes)
	reading.SchedulerDelayMs = float64(delay) / float64(time.Millisecond)

	s.mu.Lock()
	s.samples.Push(reading)
	s.count++
	if s.peak == nil || reading.HeapUsed > s.peak.HeapUsed {
		peak := reading
		s.peak = &peak
	}
	s.mu.Unlock()
	s.heapPercent.Store(math.Float64bits(reading.HeapUsedPercent))
	s.metrics.observe(reading)

	s.evaluate(ctx, reading)
	return reading, nil
}

// evaluate runs with sampleMu held.
func (s *Sentinel) evaluate(ctx context.Context, sample entity.MemorySample) {
	s.mu.RLock()
	prev := s.level
	s.mu.RUnlock()

	next := nextLevel(prev, sample.HeapUsedPercent)
	if next != prev {
		s.transition(prev, next, sample)
		// Persisted once mitigation has run so the snapshot reflects it
		defer s.persist(ctx, next, sample)
	}

	if next == entity.Normal {
		if prev != entity.Normal {
			s.clearPressure(ctx)
		}
		return
	}

	s.shedding.Store(true)
	s.metrics.LoadShedding.Set(1)
	if s.pressureSince.IsZero() {
		s.pressureSince = sample.Timestamp
	}
	if next >= entity.Severe {
		s.maybeEvict(ctx, sample.Timestamp, next == entity.Emergency)
	}
	switch {
	case next >= entity.Critical:
		s.opts.GC()
		s.metrics.ForcedGC.Inc()
		s.pauseWorkers(ctx, "critical pressure")
	case sample.Timestamp.Sub(s.pressureSince) >= sustainedPressure:
		s.pauseWorkers(ctx, "sustained pressure")
	}
}

func (s *Sentinel) transition(prev, next entity.PressureLevel, sample entity.MemorySample) {
	s.mu.Lock()
	s.level = next
	s.mu.Unlock()
	s.metrics.Level.Set(float64(next))

	event := s.logger.Warn()
	if next < prev {
		event = s.logger.Info()
	}
	event.Str("from", prev.String()).Str("to", next.String()).
		Float64("heap_used_percent", sample.HeapUsedPercent).
		Uint64("heap_used", sample.HeapUsed).
		Msg("Memory pressure level changed")
}

// LastTransition reads the most recently persisted transition. It may come from an earlier
// run or from another instance sharing the store.
func (s *Sentinel) LastTransition(ctx context.Context) (entity.PressureSnapshot, bool, error) {
	if s.opts.Repository == nil {
		return entity.PressureSnapshot{}, false, ErrNoRepository
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	return s.opts.Repository.GetSnapshot(ctx)
}

// The restored snapshot is informational only, a fresh process always starts at NORMAL.
func (s *Sentinel) logPreviousTransition(ctx context.Context) {
	if s.opts.Repository == nil {
		return
	}
	snapshot, ok, err := s.LastTransition(ctx)
	switch {
	case err != nil:
		s.logger.Warn().Err(err).Msg("Couldn't read the last pressure snapshot")
	case ok:
		s.logger.Info().Str("level", snapshot.Level).
			Float64("heap_used_percent", snapshot.HeapUsedPercent).
			Time("changed_at", time.Unix(snapshot.ChangedAt, 0)).
			Msg("Last recorded pressure transition")
	}
}

// Best effort, a store failure never affects mitigation.
func (s *Sentinel) persist(ctx context.Context, level entity.PressureLevel, sample entity.MemorySample) {
	if s.opts.Repository == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	s.mu.RLock()
	paused := s.workersPaused
	s.mu.RUnlock()
	snapshot := entity.PressureSnapshot{
		Level:              level.String(),
		HeapUsedPercent:    sample.HeapUsedPercent,
		LoadSheddingActive: level >= entity.Pressure,
		WorkersPaused:      paused,
		ChangedAt:          sample.Timestamp.Unix(),
	}
	if err := s.opts.Repository.SaveSnapshot(ctx, snapshot); err != nil {
		s.logger.Warn().Err(err).Msg("Couldn't persist pressure snapshot")
	}
}

func (s *Sentinel) maybeEvict(ctx context.Context, now time.Time, emergency bool) {
	if s.opts.Evictor == nil {
		return
	}
	if !emergency && !s.lastEviction.IsZero() && now.Sub(s.lastEviction) < s.cooldown {
		return
	}

	passes := 1
	if emergency {
		passes = emergencyEvictionPasses
	}
	reclaimed := 0
	for i := 0; i < passes; i++ {
		n, err := s.evict(ctx)
		s.metrics.Evictions.Inc()
		if err != nil {
			s.logger.Error().Err(err).Msg("Cache eviction failed")
			break
		}
		reclaimed += n
		if n == 0 {
			break
		}
	}
	s.metrics.Reclaimed.Add(float64(reclaimed))

	s.lastEviction = now
	s.consecutiveEvictions++
	if s.consecutiveEvictions > 1 {
		s.cooldown = nextCooldown(s.cooldown)
	}
	s.logger.Info().Int("reclaimed", reclaimed).Int("consecutive", s.consecutiveEvictions).
		Dur("next_cooldown", s.cooldown).Bool("emergency", emergency).Msg("Cache eviction ran")
}

// A panicking evictor is reported as an error.
func (s *Sentinel) evict(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evictor panicked: %v", r)
		}
	}()
	return s.opts.Evictor.Evict(ctx)
}

func (s *Sentinel) pauseWorkers(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.workersPaused {
		s.mu.Unlock()
		return
	}
	s.workersPaused = true
	s.mu.Unlock()

	s.metrics.WorkersPaused.Set(1)
	s.logger.Warn().Str("reason", reason).Msg("Pausing heavy workers")
	if s.opts.Workers != nil {
		s.opts.Workers.Pause(ctx)
	}
}

func (s *Sentinel) clearPressure(ctx context.Context) {
	s.shedding.Store(false)
	s.metrics.LoadShedding.Set(0)
	s.pressureSince = time.Time{}
	s.lastEviction = time.Time{}
	s.consecutiveEvictions = 0
	s.cooldown = initialEvictionCooldown

	s.mu.Lock()
	paused := s.workersPaused
	s.workersPaused = false
	s.mu.Unlock()
	if paused {
		s.metrics.WorkersPaused.Set(0)
		s.logger.Info().Msg("Resuming heavy workers")
		if s.opts.Workers != nil {
			s.opts.Workers.Resume(ctx)
		}
	}
}

// LoadSheddingActive is read on every request, it never takes a lock.
func (s *Sentinel) LoadSheddingActive() bool {
	return s.shedding.Load()
}

// HeapUsedPercent of the latest sample.
func (s *Sentinel) HeapUsedPercent() float64 {
	return math.Float64frombits(s.heapPercent.Load())
}

func (s *Sentinel) Level() entity.PressureLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

// CeilingBytes is the ceiling HeapUsedPercent is computed against.
func (s *Sentinel) CeilingBytes() uint64 {
	return s.opts.CeilingBytes
}

func (s *Sentinel) Stats() entity.MemoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recent := s.samples.Last(s.opts.RecentWindow)
	stats := entity.MemoryStats{
		Recent:             recent,
		Level:              s.level,
		IsUnderPressure:    s.level >= entity.Pressure,
		LoadSheddingActive: s.shedding.Load(),
		WorkersPaused:      s.workersPaused,
		CeilingBytes:       s.opts.CeilingBytes,
		Uptime:             s.opts.Clock.Since(s.startedAt),
		SampleCount:        s.count,
	}
	if latest, ok := s.samples.Latest(); ok {
		stats.Current = &latest
	}
	if s.peak != nil {
		peak := *s.peak
		stats.Peak = &peak
	}
	if len(recent) > 0 {
		sum := 0.0
		for _, r := range recent {
			sum += r.HeapUsedPercent
		}
		stats.AverageHeapPercent = sum / float64(len(recent))
	}
	return stats
}

// Trend fits the recent window.
func (s *Sentinel) Trend() entity.MemoryTrend {
	s.mu.RLock()
	recent := s.samples.Last(s.opts.RecentWindow)
	s.mu.RUnlock()
	return computeTrend(recent)
}

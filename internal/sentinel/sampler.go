// Process memory readings.

package sentinel

import (
	"Lantern/internal/entity"
	"Lantern/pkg/log"
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// DefaultCeilingBytes is used when neither MEMORY_CEILING_MB nor GOMEMLIMIT is set.
const DefaultCeilingBytes uint64 = 1024 * 1024 * 1024

// Reader takes one memory reading. Timestamp, HeapUsedPercent and SchedulerDelayMs are
// filled in by the Sentinel.
type Reader interface {
	Read() (entity.MemorySample, error)
}

type runtimeReader struct {
	proc    *process.Process
	logger  log.Logger
	rssOnce sync.Once
}

// NewRuntimeReader reads the Go runtime statistics and the process RSS.
func NewRuntimeReader(logger log.Logger) Reader {
	r := &runtimeReader{logger: logger}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("Process handle unavailable, RSS will be reported as 0")
		r.rssOnce.Do(func() {})
	} else {
		r.proc = proc
	}
	return r
}

func (r *runtimeReader) Read() (entity.MemorySample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	sample := entity.MemorySample{
		HeapUsed:  ms.HeapAlloc,
		HeapTotal: ms.HeapSys,
		External:  ms.Sys - ms.HeapSys,
		Stack:     ms.StackInuse,
	}
	if r.proc != nil {
		info, err := r.proc.MemoryInfo()
		if err != nil {
			r.rssOnce.Do(func() {
				r.logger.Warn().Err(err).Msg("Couldn't read process RSS, reporting 0")
			})
		} else {
			sample.RSS = info.RSS
		}
	}
	return sample, nil
}

// ResolveCeiling picks the heap ceiling: configured bytes, then the runtime soft limit, then the default.
func ResolveCeiling(configured uint64) uint64 {
	if configured > 0 {
		return configured
	}
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		return uint64(limit)
	}
	return DefaultCeilingBytes
}

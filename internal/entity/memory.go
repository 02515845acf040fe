// Structure of the memory sentinel models in Lantern.

package entity

import "time"

// MemorySample is one reading of process memory health.
type MemorySample struct {
	Timestamp time.Time `json:"timestamp"`
	// Bytes of allocated heap objects.
	HeapUsed uint64 `json:"heapUsed"`
	// Bytes of heap memory obtained from the OS.
	HeapTotal uint64 `json:"heapTotal"`
	// Resident set size of the process.
	RSS uint64 `json:"rss"`
	// Runtime memory outside of the heap.
	External uint64 `json:"external"`
	// Bytes in goroutine stacks.
	Stack uint64 `json:"stack"`
	// HeapUsed divided by the configured ceiling, not by HeapTotal.
	HeapUsedPercent float64 `json:"heapUsedPercent"`
	// How late the sampling tick fired.
	SchedulerDelayMs float64 `json:"schedulerDelayMs"`
}

// PressureLevel classifies memory stress. Higher values are more severe.
type PressureLevel int

const (
	Normal PressureLevel = iota
	Pressure
	Severe
	Critical
	Emergency
)

func (l PressureLevel) String() string {
	switch l {
	case Normal:
		return "NORMAL"
	case Pressure:
		return "PRESSURE"
	case Severe:
		return "SEVERE"
	case Critical:
		return "CRITICAL"
	case Emergency:
		return "EMERGENCY"
	}
	return "UNKNOWN"
}

// MarshalText renders the level by name in JSON payloads.
func (l PressureLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// MemoryStats is the ops view of the sentinel.
type MemoryStats struct {
	Current            *MemorySample  `json:"current"`
	Peak               *MemorySample  `json:"peak"`
	Recent             []MemorySample `json:"recent"`
	AverageHeapPercent float64        `json:"averageHeapPercent"`
	Level              PressureLevel  `json:"level"`
	IsUnderPressure    bool           `json:"isUnderPressure"`
	LoadSheddingActive bool           `json:"loadSheddingActive"`
	WorkersPaused      bool           `json:"workersPaused"`
	CeilingBytes       uint64         `json:"ceilingBytes"`
	Uptime             time.Duration  `json:"uptimeNs"`
	SampleCount        uint64         `json:"sampleCount"`
}

// MemoryTrend separates transient spikes from leak-like growth.
type MemoryTrend struct {
	// Least-squares slope of HeapUsed in bytes per second.
	BytesPerSecond float64 `json:"bytesPerSecond"`
	// Least-squares slope of HeapUsedPercent per sample.
	PercentPerSample float64 `json:"percentPerSample"`
	// More than 70% of consecutive samples increased.
	MonotonicGrowth bool `json:"monotonicGrowth"`
	Samples         int  `json:"samples"`
}

// Saved in DB as lantern:pressure, refreshed on every level transition.
type PressureSnapshot struct {
	Level              string  `json:"level" redis:"level"`
	HeapUsedPercent    float64 `json:"heap_used_percent" redis:"heap_used_percent"`
	LoadSheddingActive bool    `json:"load_shedding_active" redis:"load_shedding_active"`
	WorkersPaused      bool    `json:"workers_paused" redis:"workers_paused"`
	ChangedAt          int64   `json:"changed_at" redis:"changed_at"`
}

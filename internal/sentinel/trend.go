package sentinel

import (
	"Lantern/internal/entity"

	"gonum.org/v1/gonum/stat"
)

// More than this share of consecutive increases counts as monotonic growth.
const monotonicShare = 0.7

func computeTrend(samples []entity.MemorySample) entity.MemoryTrend {
	trend := entity.MemoryTrend{Samples: len(samples)}
	if len(samples) < 2 {
		return trend
	}

	origin := samples[0].Timestamp
	xs := make([]float64, len(samples))
	idx := make([]float64, len(samples))
	heap := make([]float64, len(samples))
	pct := make([]float64, len(samples))
	increases := 0
	for i, smp := range samples {
		xs[i] = smp.Timestamp.Sub(origin).Seconds()
		idx[i] = float64(i)
		heap[i] = float64(smp.HeapUsed)
		pct[i] = smp.HeapUsedPercent
		if i > 0 && smp.HeapUsed > samples[i-1].HeapUsed {
			increases++
		}
	}

	trend.BytesPerSecond = slope(xs, heap)
	trend.PercentPerSample = slope(idx, pct)
	trend.MonotonicGrowth = float64(increases)/float64(len(samples)-1) > monotonicShare
	return trend
}

// Least squares slope of ys over xs, 0 when xs has no spread.
func slope(xs, ys []float64) float64 {
	if stat.Variance(xs, nil) == 0 {
		return 0
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	return beta
}

package sentinel

import (
	"Lantern/internal/entity"
	"time"
)

// Heap usage ratios, measured against the ceiling.
const (
	PressureThreshold  = 0.75
	SevereThreshold    = 0.82
	CriticalThreshold  = 0.88
	EmergencyThreshold = 0.92
	RecoveryThreshold  = 0.65
)

const (
	initialEvictionCooldown = 30 * time.Second
	minEvictionCooldown     = 5 * time.Second
	emergencyEvictionPasses = 3
	sustainedPressure       = 5 * time.Minute
)

// nextLevel classifies pct. Crossing an entry threshold jumps straight to that level, only
// RecoveryThreshold leaves pressure, in between the current level is kept.
func nextLevel(current entity.PressureLevel, pct float64) entity.PressureLevel {
	switch {
	case pct >= EmergencyThreshold:
		return entity.Emergency
	case pct >= CriticalThreshold:
		return entity.Critical
	case pct >= SevereThreshold:
		return entity.Severe
	case pct >= PressureThreshold:
		return entity.Pressure
	case pct <= RecoveryThreshold:
		return entity.Normal
	}
	return current
}

// nextCooldown halves the eviction cooldown, never below the minimum.
func nextCooldown(current time.Duration) time.Duration {
	if half := current / 2; half > minEvictionCooldown {
		return half
	}
	return minEvictionCooldown
}

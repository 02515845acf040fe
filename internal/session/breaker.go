package session

import (
	"Lantern/internal/entity"
	"Lantern/pkg/log"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerOptions of the session store circuit breaker.
type BreakerOptions struct {
	// Failures is the run of consecutive store failures that opens the breaker, defaults to 5.
	Failures uint32
	// OpenFor is how long an open breaker fails fast before letting one call through, defaults to 30s.
	OpenFor time.Duration
}

// breakerRepository fails fast with ErrStore while the session store keeps failing,
// so handshakes and maintenance passes stop piling up on a dead Redis.
type breakerRepository struct {
	next Repository
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerRepository wraps next with a circuit breaker. Only ErrStore failures count,
// a missing session is an answer and keeps the breaker closed.
func NewBreakerRepository(next Repository, opts BreakerOptions, logger log.Logger) Repository {
	if opts.Failures == 0 {
		opts.Failures = 5
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = 30 * time.Second
	}
	logger = logger.With("component", "session")
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "session-store",
		MaxRequests: 1,
		Timeout:     opts.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.Failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrStore)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Session store breaker changed state")
		},
	})
	return &breakerRepository{next: next, cb: cb}
}

func (r *breakerRepository) Lookup(ctx context.Context, sessionID string) (entity.Session, error) {
	res, err := r.cb.Execute(func() (interface{}, error) {
		return r.next.Lookup(ctx, sessionID)
	})
	if err != nil {
		return entity.Session{}, breakerError(err)
	}
	return res.(entity.Session), nil
}

func (r *breakerRepository) Save(ctx context.Context, sessionID, userID string, expiresAt time.Time) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.next.Save(ctx, sessionID, userID, expiresAt)
	})
	return breakerError(err)
}

// An open breaker is reported as the store being unavailable.
func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return err
}

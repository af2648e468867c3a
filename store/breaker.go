// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultFailureThreshold = 5
	defaultResetTimeout     = 10 * time.Second
)

// BreakerOptions configures the circuit breaker placed in front of a backend.
type BreakerOptions struct {
	FailureThreshold uint32        `yaml:"failure_threshold" json:"failure_threshold"` // consecutive failures before opening
	ResetTimeout     time.Duration `yaml:"reset_timeout" json:"reset_timeout"`         // time spent open before probing again
}

// Breaker is a Backend which stops querying a failing backend for a while,
// failing every fetch with ErrStoreUnavailable in the meantime.
type Breaker struct {
	backend Backend
	cb      *gobreaker.CircuitBreaker
}

// NewBreaker wraps a backend with a circuit breaker.
func NewBreaker(backend Backend, opts *BreakerOptions, log *slog.Logger) *Breaker {
	if opts == nil {
		opts = new(BreakerOptions)
	}

	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}

	timeout := opts.ResetTimeout
	if timeout <= 0 {
		timeout = defaultResetTimeout
	}

	if log == nil {
		log = slog.Default()
	}

	return &Breaker{
		backend: backend,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "credential-store",
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warn("credential store circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String())
			},
		}),
	}
}

// Fetch fetches the user records through the circuit breaker.
func (b *Breaker) Fetch(ctx context.Context, user string) (Record, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.backend.Fetch(ctx, user)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err != nil {
		return Record{}, err
	}

	return v.(Record), nil
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Close closes the underlying backend.
func (b *Breaker) Close() error {
	return b.backend.Close()
}

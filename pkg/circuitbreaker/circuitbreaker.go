// Package circuitbreaker wraps sony/gobreaker with the settings shared by the
// outbound clients of the storefront.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrOpen is returned instead of calling through while the breaker is open
// or half-open and saturated.
var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name string
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears the closed-state counts. Zero never clears them.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Excluded marks err as not the dependency's fault, such as a request the
// caller abandoned. It is returned unwrapped and counted as a success.
func Excluded(err error) error {
	if err == nil {
		return nil
	}
	return excludedError{err: err}
}

type excludedError struct {
	err error
}

func (e excludedError) Error() string { return e.err.Error() }
func (e excludedError) Unwrap() error { return e.err }

func isSuccessful(err error) bool {
	var ex excludedError
	return err == nil || errors.Is(err, context.Canceled) || errors.As(err, &ex)
}

type Breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

func New[T any](cfg Config, log *slog.Logger) *Breaker[T] {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	st := gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		IsSuccessful: isSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			}
		},
	}
	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](st)}
}

// Execute runs fn through the breaker. Rejections are reported as ErrOpen.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrOpen
	}
	var ex excludedError
	if errors.As(err, &ex) {
		return v, ex.err
	}
	return v, err
}

func (b *Breaker[T]) State() string {
	return b.cb.State().String()
}

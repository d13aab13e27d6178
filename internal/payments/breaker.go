package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// GatewayLogger receives breaker state changes and gateway call failures.
type GatewayLogger func(ctx context.Context, event string, fields map[string]any)

func newBreaker(name string, logger GatewayLogger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger(context.Background(), "payments.breaker.state_changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
}

// ExecuteWithBreaker runs fn through cb and returns its typed result. The call
// is abandoned when ctx is done; the breaker still records its outcome.
func ExecuteWithBreaker[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, op string, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("%w: %w: %s: %v", ErrGateway, ErrGatewayUnavailable, op, err)
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := cb.Execute(func() (interface{}, error) {
			return fn()
		})
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %w: %s: %v", ErrGateway, ErrGatewayUnavailable, op, ctx.Err())
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, gobreaker.ErrOpenState) || errors.Is(res.err, gobreaker.ErrTooManyRequests) {
				return zero, fmt.Errorf("%w: %w: %s: %v", ErrGateway, ErrGatewayUnavailable, op, res.err)
			}
			return zero, fmt.Errorf("%w: %s: %v", ErrGateway, op, res.err)
		}
		value, _ := res.value.(T)
		return value, nil
	}
}

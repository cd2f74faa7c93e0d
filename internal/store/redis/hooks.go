package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/alphabot-ai/slashnews/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

const backend = "redis"

// MetricsHook records every command and pipeline in the store metrics.
type MetricsHook struct{}

var _ goredis.Hook = (*MetricsHook)(nil)

func (h *MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			metrics.StoreConnectionErrors.Inc()
		}
		return conn, err
	}
}

func (h *MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		observe(cmd.Name(), err, time.Since(start))
		return err
	}
}

func (h *MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		observe("pipeline", err, time.Since(start))
		return err
	}
}

func observe(operation string, err error, d time.Duration) {
	status := "success"
	if err != nil && !errors.Is(err, goredis.Nil) {
		status = "error"
	}
	metrics.StoreOpsTotal.WithLabelValues(backend, operation, status).Inc()
	metrics.StoreOpDuration.WithLabelValues(backend, operation).Observe(d.Seconds())
}

// BreakerHook fails fast once the server keeps refusing connections.
// Only connection-level failures count against the breaker; server replies
// such as WRONGTYPE and missing keys do not.
type BreakerHook struct {
	cb *gobreaker.CircuitBreaker
}

var _ goredis.Hook = (*BreakerHook)(nil)

type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker open.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

func NewBreakerHook(settings BreakerSettings) *BreakerHook {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        backend,
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.Set(stateValue(to))
		},
	})
	return &BreakerHook{cb: cb}
}

func (h *BreakerHook) State() gobreaker.State {
	return h.cb.State()
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func (h *BreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return next
}

func (h *BreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		var cmdErr error
		_, err := h.cb.Execute(func() (interface{}, error) {
			cmdErr = next(ctx, cmd)
			if isConnError(cmdErr) {
				return nil, cmdErr
			}
			return nil, nil
		})
		if isOpen(err) {
			return fmt.Errorf("redis circuit breaker open: %w", err)
		}
		return cmdErr
	}
}

func (h *BreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		var pipeErr error
		_, err := h.cb.Execute(func() (interface{}, error) {
			pipeErr = next(ctx, cmds)
			for _, cmd := range cmds {
				if isConnError(cmd.Err()) {
					return nil, cmd.Err()
				}
			}
			return nil, nil
		})
		if isOpen(err) {
			err = fmt.Errorf("redis circuit breaker open: %w", err)
			for _, cmd := range cmds {
				cmd.SetErr(err)
			}
			return err
		}
		return pipeErr
	}
}

func isOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// isConnError reports whether err came from the transport rather than a server reply.
func isConnError(err error) bool {
	if err == nil || errors.Is(err, goredis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var reply goredis.Error
	return !errors.As(err, &reply)
}

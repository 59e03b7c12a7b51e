package rtsp

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReconnectConfig controls exponential backoff between pipeline attempts.
type ReconnectConfig struct {
	MaxRetries    int           // consecutive failures before giving up
	RetryDelay    time.Duration // first delay, doubled per attempt
	MaxRetryDelay time.Duration // cap
}

// DefaultReconnectConfig returns 5 retries starting at 1s, capped at 30s.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// reconnectState tracks consecutive failures. The counter is reset when a
// pipeline reaches PLAYING, so a long-lived stream that drops once starts
// over with the short delay.
type reconnectState struct {
	retries    atomic.Int32
	reconnects atomic.Uint64
}

func (s *reconnectState) reset() { s.retries.Store(0) }

// connectFunc runs one pipeline attempt. nil means graceful stop.
type connectFunc func(ctx context.Context) error

// runWithReconnect calls connect until it returns nil, ctx is cancelled or
// MaxRetries consecutive attempts fail.
func runWithReconnect(ctx context.Context, connect connectFunc, cfg ReconnectConfig, state *reconnectState, logger *slog.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt := int(state.retries.Add(1))
		state.reconnects.Add(1)

		if attempt > cfg.MaxRetries {
			return fmt.Errorf("rtsp: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := calculateBackoff(attempt, cfg)
		logger.Warn("rtsp: retrying connection",
			"error", err,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// calculateBackoff returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Beyond 2^30 the shift overflows; the cap applies long before that.
	if attempt > 31 {
		return cfg.MaxRetryDelay
	}

	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

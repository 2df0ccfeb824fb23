package app

import (
	"golang.org/x/time/rate"

	"virtmcp/internal/config"
	"virtmcp/internal/dispatcher"
	"virtmcp/internal/executor"
)

// retryPolicy translates the retry section into an executor policy.
func retryPolicy(cfg config.RetryConfig) executor.RetryPolicy {
	policy := executor.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.MaxAttempts
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval
	}
	if len(cfg.Signatures) > 0 {
		policy.Signatures = cfg.Signatures
	}
	return policy
}

// timeoutTable translates the timeouts section into the dispatcher table.
func timeoutTable(cfg config.TimeoutsConfig) dispatcher.TimeoutTable {
	return dispatcher.TimeoutTable{
		Default: cfg.Default,
		Tools:   cfg.Tools,
		Actions: cfg.Actions,
	}
}

// limiter returns nil when rate limiting is disabled.
func limiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.PerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst)
}

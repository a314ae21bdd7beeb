package resilience

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/config"
)

// ForClassify builds the retry policy for LLM calls from config.
// classify.max_retries counts retries, so attempts are one more.
func ForClassify(cfg config.ClassifyConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxRetries >= 0 {
		rc.MaxAttempts = cfg.MaxRetries + 1
	}
	rc.ShouldRetry = IsTransient
	return rc
}

// ForSources builds the per-adapter breaker settings. An adapter that fails
// on three consecutive scans is skipped for an hour.
func ForSources() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  3,
		ResetTimeout:      time.Hour,
		HalfOpenMaxProbes: 1,
		OnStateChange:     logTransition,
	}
}

// ForLLM builds the breaker guarding the LLM provider.
func ForLLM() CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	cfg.ShouldTrip = IsTransient
	cfg.OnStateChange = logTransition
	return cfg
}

func logTransition(name string, from, to CircuitState) {
	zap.L().Warn("resilience: circuit state change",
		zap.String("service", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

package resilience

import "time"

// GuardConfig bundles the retry and breaker policies of a Guard.
type GuardConfig struct {
	Retry   RetryConfig
	Breaker BreakerConfig
}

// Settings mirrors the resilience section of the configuration file.
type Settings struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// GuardConfig converts settings into policies. Zero values fall back to the
// defaults.
func (s Settings) GuardConfig() GuardConfig {
	retry := DefaultRetryConfig()
	if s.MaxAttempts > 0 {
		retry.MaxAttempts = s.MaxAttempts
	}
	if s.InitialBackoffMs > 0 {
		retry.InitialBackoff = time.Duration(s.InitialBackoffMs) * time.Millisecond
	}
	if s.MaxBackoffMs > 0 {
		retry.MaxBackoff = time.Duration(s.MaxBackoffMs) * time.Millisecond
	}
	if s.Multiplier > 0 {
		retry.Multiplier = s.Multiplier
	}
	if s.JitterFraction > 0 {
		retry.JitterFraction = s.JitterFraction
	}

	breaker := DefaultBreakerConfig()
	if s.FailureThreshold > 0 {
		breaker.FailureThreshold = s.FailureThreshold
	}
	if s.ResetTimeoutSecs > 0 {
		breaker.ResetTimeout = time.Duration(s.ResetTimeoutSecs) * time.Second
	}
	return GuardConfig{Retry: retry, Breaker: breaker}
}

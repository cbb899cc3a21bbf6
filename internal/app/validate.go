package app

import (
	"fmt"

	"personaproxy/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	// DB path must be present
	if p := eff.DBPath; p == "" {
		return fmt.Errorf("database path is empty: set --db flag, PERSONAPROXY_DB_PATH env, or server.db_path in config")
	}

	if eff.Config.Proxy.QueueCapacity < 0 {
		return fmt.Errorf("proxy.queue_capacity must not be negative")
	}
	if eff.Config.Proxy.PostTimeout.Duration() < 0 {
		return fmt.Errorf("proxy.post_timeout must not be negative")
	}
	if eff.Config.Sink.RPS < 0 {
		return fmt.Errorf("sink.rps must not be negative")
	}
	if eff.Config.Sink.Burst < 0 {
		return fmt.Errorf("sink.burst must not be negative")
	}
	if eff.Config.Retention.Enabled && eff.Config.Retention.Period == "" {
		return fmt.Errorf("retention enabled but retention.period is empty")
	}

	return nil
}
